package orders

type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusPaid: true, StatusCancelled: true, StatusFailed: true},
	StatusPaid:      {StatusDelivered: true, StatusRefunded: true},
	StatusDelivered: {StatusRefunded: true},
	StatusCancelled: {},
	StatusFailed:    {},
	StatusRefunded:  {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// Terminal: tidak ada transisi keluar.
func (s Status) Terminal() bool {
	return len(validNext[s]) == 0
}
