package model

import "time"

// Tables carried on the change feed.
const (
	TableMessages  = "messages"
	TablePresence  = "user_presence"
	TableProducts  = "products"
	TableLocations = "location_history"
)

type Message struct {
	ID        string     `json:"id"`
	OrderID   string     `json:"order_id"`
	SenderID  string     `json:"sender_id"`
	Body      string     `json:"body"`
	Type      string     `json:"type"` // text | system | image
	IsRead    bool       `json:"is_read"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ClientRef string     `json:"client_ref,omitempty"`
}

const (
	MessageText   = "text"
	MessageSystem = "system"
	MessageImage  = "image"
)

type PresenceRecord struct {
	UserID     string         `json:"user_id"`
	Status     PresenceStatus `json:"status"` // lihat status.go
	LastSeenAt time.Time      `json:"last_seen_at"`
	Latitude   *float64       `json:"latitude,omitempty"`
	Longitude  *float64       `json:"longitude,omitempty"`
}

// TypingSignal is broadcast only, never stored.
type TypingSignal struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

type InventorySnapshot struct {
	ProductID         string `json:"id"`
	Name              string `json:"name"`
	StockQuantity     int    `json:"stock_quantity"`
	LowStockThreshold int    `json:"low_stock_threshold"`
}

type AlertType string

const (
	AlertLowStock   AlertType = "low_stock"
	AlertOutOfStock AlertType = "out_of_stock"
)

type Alert struct {
	ProductID    string    `json:"product_id"`
	ProductName  string    `json:"product_name"`
	CurrentStock int       `json:"current_stock"`
	Threshold    int       `json:"threshold"`
	Type         AlertType `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
}

type LocationSample struct {
	ID         string    `json:"id"`
	DeliveryID string    `json:"delivery_id"`
	DriverID   string    `json:"driver_id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   *float64  `json:"accuracy,omitempty"`
	Heading    *float64  `json:"heading,omitempty"`
	Speed      *float64  `json:"speed,omitempty"` // km/h
	RecordedAt time.Time `json:"recorded_at"`
}
