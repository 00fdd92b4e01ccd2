package domain

// NotificationKind classifies what triggered a notification.
type NotificationKind string

const (
	KindBirthday            NotificationKind = "birthday"
	KindAnniversary         NotificationKind = "anniversary"
	KindDeliveryDueToday    NotificationKind = "delivery_due_today"
	KindDeliveryDueTomorrow NotificationKind = "delivery_due_tomorrow"
	KindDeliverySoon        NotificationKind = "delivery_soon"
	KindOverdue             NotificationKind = "overdue"
)

// Priority orders notifications in the feed.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// EntityType names the CRM entity a notification points at.
type EntityType string

const (
	EntityLead  EntityType = "lead"
	EntityOrder EntityType = "order"
)

// RelatedEntity lets the UI navigate from a notification to the
// lead or order detail view.
type RelatedEntity struct {
	Type EntityType `json:"type"`
	ID   string     `json:"id"`
}

// NotificationItem is one entry in the derived feed. Its ID is
// deterministic (<kind>-<entity id>) so that read/dismissed state
// survives re-derivation.
type NotificationItem struct {
	ID       string           `json:"id"`
	Kind     NotificationKind `json:"kind"`
	Title    string           `json:"title"`
	Message  string           `json:"message"`
	Priority Priority         `json:"priority"`
	Read     bool             `json:"read"`
	Related  RelatedEntity    `json:"related"`
}
