package domain

import "time"

// Lead statuses mirror the CRM pipeline stages. The engine only ever
// assigns StatusNew; the other stages are owned by the CRUD screens.
const (
	StatusNew        = "New"
	StatusContacted  = "Contacted"
	StatusQualified  = "Qualified"
	StatusConverted  = "Converted"
	StatusLost       = "Lost"
)

// Lead is a CRM contact. The engine partially owns it: it may create a
// lead or append to Notes/LastContactedAt, but every other field belongs
// to the CRUD screens. Leads are never deleted by the engine.
type Lead struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Phone           string     `json:"phone,omitempty"`
	Handle          string     `json:"handle,omitempty"`
	Email           string     `json:"email,omitempty"`
	ChannelOrigin   Channel    `json:"channel_origin,omitempty"`
	Status          string     `json:"status"`
	Notes           string     `json:"notes,omitempty"`
	DateOfBirth     *time.Time `json:"date_of_birth,omitempty"`
	MarriageDate    *time.Time `json:"marriage_date,omitempty"`
	LastContactedAt time.Time  `json:"last_contacted_at"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Order statuses used by the delivery notification rules.
const (
	OrderStatusPending      = "Pending"
	OrderStatusInProduction = "In Production"
	OrderStatusReady        = "Ready"
	OrderStatusDelivered    = "Delivered"
	OrderStatusCancelled    = "Cancelled"
)

// Order is a CRM order, read-only from the engine's perspective.
type Order struct {
	ID               string     `json:"id"`
	LeadID           string     `json:"lead_id,omitempty"`
	CustomerName     string     `json:"customer_name"`
	ItemDescription  string     `json:"item_description,omitempty"`
	Status           string     `json:"status"`
	ExpectedDelivery *time.Time `json:"expected_delivery,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}
