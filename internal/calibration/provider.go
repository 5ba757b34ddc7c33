package calibration

import (
	"errors"
	"fmt"
	"sync"
)

// ErrConfigurationConflict is returned when a second, different profile is
// selected after one is already active.
var ErrConfigurationConflict = errors.New("cannot change calibration profile once it has been set")

// Provider guards the single active Profile of a process.
type Provider struct {
	mu     sync.Mutex
	active *Profile
}

// NewProvider returns a Provider with no profile selected yet.
func NewProvider() *Provider {
	return &Provider{}
}

// Init selects the active profile. Selecting the already active profile is
// a no-op; selecting a different one fails with ErrConfigurationConflict.
func (p *Provider) Init(name Name) (Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initLocked(name)
}

func (p *Provider) initLocked(name Name) (Profile, error) {
	if p.active != nil {
		if p.active.Name != name {
			return *p.active, fmt.Errorf("%w: active %s, requested %s", ErrConfigurationConflict, p.active.Name, name)
		}
		return *p.active, nil
	}
	prof, err := Lookup(name)
	if err != nil {
		return Profile{}, err
	}
	p.active = &prof
	return prof, nil
}

// Current returns the active profile, selecting DefaultProfile if nothing
// was selected yet.
func (p *Provider) Current() Profile {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == nil {
		// DefaultProfile is always a known name, so this cannot fail.
		prof, _ := p.initLocked(DefaultProfile)
		return prof
	}
	return *p.active
}

// Selected reports whether a profile has been chosen, explicitly or by
// default.
func (p *Provider) Selected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active != nil
}
