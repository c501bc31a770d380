package domain

import (
	"encoding/json"
	"strings"
	"time"
)

type UserRole string

const (
	RoleBuyer  UserRole = "buyer"
	RoleSeller UserRole = "seller"
	RoleAdmin  UserRole = "admin"
)

// ParseRole normalises a role string. Unknown values report false.
func ParseRole(raw string) (UserRole, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(RoleBuyer):
		return RoleBuyer, true
	case string(RoleSeller):
		return RoleSeller, true
	case string(RoleAdmin):
		return RoleAdmin, true
	default:
		return "", false
	}
}

type ItemStatus string

const (
	ItemActive   ItemStatus = "active"
	ItemPending  ItemStatus = "pending"
	ItemSold     ItemStatus = "sold"
	ItemInactive ItemStatus = "inactive"
)

// Categories offered on the marketplace.
var Categories = []string{"cars", "property", "electronics"}

type User struct {
	ID          string   `json:"id"`
	FirstName   string   `json:"firstName"`
	LastName    string   `json:"lastName"`
	Email       string   `json:"email"`
	PhoneNumber string   `json:"phoneNumber"`
	Role        UserRole `json:"role"`
	Password    string   `json:"password,omitempty"`
}

// FullName joins first and last name.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Public returns a copy without the password.
func (u User) Public() User {
	u.Password = ""
	return u
}

type Location struct {
	District string `json:"district,omitempty"`
	Sector   string `json:"sector,omitempty"`
	Address  string `json:"address,omitempty"`
}

// UnmarshalJSON accepts both "id" and the backend's "_id".
func (u *User) UnmarshalJSON(data []byte) error {
	type plain User
	var raw struct {
		plain
		MongoID string `json:"_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*u = User(raw.plain)
	if u.ID == "" {
		u.ID = raw.MongoID
	}
	return nil
}

// Seller is either a bare id or an embedded user in backend responses.
type Seller struct {
	ID   string `json:"id"`
	User *User  `json:"user,omitempty"`
}

func (s *Seller) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		s.ID = id
		s.User = nil
		return nil
	}
	var user User
	if err := json.Unmarshal(data, &user); err != nil {
		return err
	}
	s.ID = user.ID
	s.User = &user
	return nil
}

func (s Seller) MarshalJSON() ([]byte, error) {
	if s.User != nil {
		return json.Marshal(s.User.Public())
	}
	return json.Marshal(s.ID)
}

type Item struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Price       float64           `json:"price"`
	Currency    string            `json:"currency"`
	Category    string            `json:"category"`
	Subcategory string            `json:"subcategory,omitempty"`
	Seller      Seller            `json:"seller"`
	Images      []string          `json:"images"`
	Location    Location          `json:"location"`
	Features    map[string]string `json:"features,omitempty"`
	Status      ItemStatus        `json:"status"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// UnmarshalJSON accepts both "id" and the backend's "_id".
func (it *Item) UnmarshalJSON(data []byte) error {
	type plain Item
	var raw struct {
		plain
		MongoID string `json:"_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*it = Item(raw.plain)
	if it.ID == "" {
		it.ID = raw.MongoID
	}
	return nil
}

type Pagination struct {
	CurrentPage int  `json:"currentPage"`
	TotalPages  int  `json:"totalPages"`
	TotalUsers  int  `json:"totalUsers,omitempty"`
	TotalItems  int  `json:"totalItems,omitempty"`
	Limit       int  `json:"limit,omitempty"`
	HasNextPage bool `json:"hasNextPage"`
	HasPrevPage bool `json:"hasPrevPage"`
}

type UserPage struct {
	Users      []User     `json:"users"`
	Pagination Pagination `json:"pagination"`
}

type ItemPage struct {
	Items      []Item     `json:"items"`
	Pagination Pagination `json:"pagination"`
}
