package workflow

// Level is either a CanonicalLevel, which takes part in status ordering, or an AdHocLevel added by
// delegation, which is recorded but never moves the chain forward.
type Level interface {
	Name() string
	Canonical() bool
}

type CanonicalLevel struct {
	name  string
	index int
}

func (l CanonicalLevel) Name() string    { return l.name }
func (l CanonicalLevel) Canonical() bool { return true }

type AdHocLevel struct {
	name string
}

// NewAdHocLevel builds an ad hoc level by name.
func NewAdHocLevel(name string) AdHocLevel { return AdHocLevel{name: name} }

func (l AdHocLevel) Name() string    { return l.name }
func (l AdHocLevel) Canonical() bool { return false }
