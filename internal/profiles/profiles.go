// Package profiles provides named port sets for lanprobe scans. A profile
// stands in for a port list, so "scan nas.lan --profile files" probes the
// file sharing ports without spelling them out. Built-in profiles cover
// common LAN services; custom profiles come from configuration.
package profiles

import (
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/anstrom/lanprobe/internal/config"
	"github.com/anstrom/lanprobe/internal/errors"
	"github.com/anstrom/lanprobe/internal/targets"
)

// DefaultProfile is used when a scan names neither ports nor a profile.
const DefaultProfile = "quick"

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// Profile is a named port set.
type Profile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Ports       string `json:"ports"`
	Priority    int    `json:"priority"`
	BuiltIn     bool   `json:"built_in"`
}

var builtIn = []Profile{
	{
		ID: "quick", Name: "Quick check", Priority: 100,
		Description: "SSH, HTTP and HTTPS",
		Ports:       "22,80,443",
	},
	{
		ID: "web", Name: "Web servers", Priority: 80,
		Description: "HTTP, HTTPS and common alternate web ports",
		Ports:       "80,443,8000,8008,8080,8443,8888",
	},
	{
		ID: "remote", Name: "Remote access", Priority: 70,
		Description: "SSH, Telnet, RDP and VNC",
		Ports:       "22,23,3389,5900-5903",
	},
	{
		ID: "files", Name: "File sharing", Priority: 60,
		Description: "FTP, SMB, NFS and AFP",
		Ports:       "20,21,139,445,548,2049",
	},
	{
		ID: "printers", Name: "Printers", Priority: 50,
		Description: "LPD, IPP and raw printing",
		Ports:       "515,631,9100",
	},
	{
		ID: "iot", Name: "Smart home", Priority: 40,
		Description: "MQTT, CoAP, RTSP and UPnP",
		Ports:       "554,1883,1900,5683,8554,8883",
	},
	{
		ID: "common", Name: "Common services", Priority: 30,
		Description: "Frequently open ports on home and office networks",
		Ports:       "21,22,23,25,53,80,110,139,143,443,445,548,631,993,995,1883,3306,3389,5000,5432,5900,8080,8443,9100",
	},
}

// Manager handles profile lookups. It is safe for concurrent use.
type Manager struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewManager creates a manager holding the built-in profiles plus custom.
// A custom profile may not reuse a built-in ID.
func NewManager(custom []config.ProfileConfig) (*Manager, error) {
	m := &Manager{profiles: make(map[string]*Profile, len(builtIn)+len(custom))}
	for i := range builtIn {
		p := builtIn[i]
		p.BuiltIn = true
		m.profiles[p.ID] = &p
	}

	for _, c := range custom {
		p := &Profile{
			ID:          c.ID,
			Name:        c.Name,
			Description: c.Description,
			Ports:       c.Ports,
			Priority:    c.Priority,
		}
		if err := m.Create(p); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Reload replaces every custom profile with custom. On error the current
// set is left untouched.
func (m *Manager) Reload(custom []config.ProfileConfig) error {
	next, err := NewManager(custom)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.profiles = next.profiles
	m.mu.Unlock()
	return nil
}

// GetAll returns all profiles, highest priority first.
func (m *Manager) GetAll() []*Profile {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		cp := *p
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Priority != all[j].Priority {
			return all[i].Priority > all[j].Priority
		}
		return all[i].Name < all[j].Name
	})
	return all
}

// GetByID returns a profile by ID.
func (m *Manager) GetByID(id string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[id]
	if !ok {
		return nil, errors.NewProbeErrorWithTarget(errors.CodeValidation, "unknown port profile", id)
	}
	cp := *p
	return &cp, nil
}

// Create adds a custom profile.
func (m *Manager) Create(profile *Profile) error {
	if err := ValidateProfile(profile); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.profiles[profile.ID]; ok {
		if existing.BuiltIn {
			return errors.ErrValidation(fmt.Sprintf("profile %q is built-in", profile.ID))
		}
		return errors.ErrValidation(fmt.Sprintf("profile %q already exists", profile.ID))
	}

	cp := *profile
	cp.BuiltIn = false
	m.profiles[cp.ID] = &cp
	return nil
}

// Delete removes a custom profile.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[id]
	if !ok || p.BuiltIn {
		return errors.ErrValidation("profile not found or is built-in")
	}
	delete(m.profiles, id)
	return nil
}

// ResolvePorts returns the port specification to scan. An explicit port
// list wins; otherwise the named profile is used, and with neither the
// default profile.
func (m *Manager) ResolvePorts(ports, profileID string) (string, error) {
	if ports != "" && profileID != "" {
		return "", errors.ErrValidation("give either ports or a profile, not both")
	}
	if ports != "" {
		return ports, nil
	}
	if profileID == "" {
		profileID = DefaultProfile
	}
	p, err := m.GetByID(profileID)
	if err != nil {
		return "", err
	}
	return p.Ports, nil
}

// ValidateProfile checks a profile definition. The port list must expand to
// at least one valid port.
func ValidateProfile(profile *Profile) error {
	if profile == nil {
		return errors.ErrValidation("profile is required")
	}
	if profile.ID == "" {
		return errors.ErrValidation("profile ID is required")
	}
	if !idPattern.MatchString(profile.ID) {
		return errors.ErrValidation(fmt.Sprintf("invalid profile ID %q (lowercase letters, digits and dashes)", profile.ID))
	}
	if profile.Name == "" {
		return errors.ErrValidation("profile name is required")
	}
	if profile.Ports == "" {
		return errors.ErrValidation("ports specification is required")
	}
	if _, err := targets.ParsePorts(profile.Ports, targets.MaxPort); err != nil {
		return errors.WrapProbeError(errors.CodeValidation,
			fmt.Sprintf("profile %q has no usable ports", profile.ID), err)
	}
	return nil
}
