package game

import "fmt"

// Status is the closed set of lifecycle states. Only this package can add variants.
type Status interface {
	Name() string
	Label() string
	IsTerminal() bool
	isStatus()
}

type (
	Pending   struct{}
	Active    struct{}
	Complete  struct{ Winning Prediction }
	Draw      struct{}
	Cancelled struct{}
)

func (Pending) Name() string   { return "pending" }
func (Active) Name() string    { return "active" }
func (Complete) Name() string  { return "complete" }
func (Draw) Name() string      { return "draw" }
func (Cancelled) Name() string { return "cancelled" }

func (Pending) Label() string   { return "Waiting for opponent" }
func (Active) Label() string    { return "Active" }
func (Complete) Label() string  { return "Completed" }
func (Draw) Label() string      { return "Draw" }
func (Cancelled) Label() string { return "Cancelled" }

func (Pending) IsTerminal() bool   { return false }
func (Active) IsTerminal() bool    { return false }
func (Complete) IsTerminal() bool  { return true }
func (Draw) IsTerminal() bool      { return true }
func (Cancelled) IsTerminal() bool { return true }

func (Pending) isStatus()   {}
func (Active) isStatus()    {}
func (Complete) isStatus()  {}
func (Draw) isStatus()      {}
func (Cancelled) isStatus() {}

// ParseStatus rebuilds a status from its stored name and, for complete games, the winning prediction
func ParseStatus(name string, winning *Prediction) (Status, error) {
	switch name {
	case "pending":
		return Pending{}, nil
	case "active":
		return Active{}, nil
	case "complete":
		if winning == nil {
			return nil, fmt.Errorf("complete status without winning prediction")
		}
		return Complete{Winning: *winning}, nil
	case "draw":
		return Draw{}, nil
	case "cancelled":
		return Cancelled{}, nil
	}
	return nil, fmt.Errorf("unknown status %q", name)
}

// StatusNames lists every status name accepted by ParseStatus
var StatusNames = []string{"pending", "active", "complete", "draw", "cancelled"}
