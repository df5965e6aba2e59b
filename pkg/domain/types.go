package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderShipped   OrderStatus = "shipped"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
)

type UserRole string

const (
	RoleCustomer UserRole = "customer"
	RoleAdmin    UserRole = "admin"
)

type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	Phone       string    `json:"phone,omitempty"`
	Address     string    `json:"address,omitempty"`
	AvatarURL   string    `json:"avatarUrl,omitempty"`
	Role        UserRole  `json:"role"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Session pairs a bearer token with the user it belongs to. The two are
// always set and cleared together; a session with one but not the other
// is treated as absent.
type Session struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Valid reports whether the session carries both halves of the pair.
func (s Session) Valid() bool {
	return s.Token != "" && s.User.ID != ""
}

type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Book struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Author      string          `json:"author"`
	Price       decimal.Decimal `json:"price"`
	ImageURL    string          `json:"imageUrl,omitempty"`
	RatingAvg   float64         `json:"ratingAvg"`
	RatingCount int             `json:"ratingCount"`
	Stock       int             `json:"stock"`
	Category    Category        `json:"category"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// CartLine is one book+quantity entry in the cart. ID is assigned by the
// backend and is distinct from the book's ID.
type CartLine struct {
	ID       string `json:"id"`
	Book     Book   `json:"book"`
	Quantity int    `json:"quantity"`
}

type OrderLine struct {
	Book      Book            `json:"book"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type Order struct {
	ID              string          `json:"id"`
	Number          string          `json:"number"`
	Lines           []OrderLine     `json:"lines"`
	Total           decimal.Decimal `json:"total"`
	Status          OrderStatus     `json:"status"`
	ShippingAddress string          `json:"shippingAddress"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

type Payment struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"orderId"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
}

type Review struct {
	ID        string    `json:"id"`
	BookID    string    `json:"bookId"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName,omitempty"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"createdAt"`
}

type ChatMessage struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName,omitempty"`
	FromAgent  bool      `json:"fromAgent"`
	CreatedAt  time.Time `json:"createdAt"`
}
