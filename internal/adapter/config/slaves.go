package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nexus-edge/coilhub/internal/domain"
)

// SlaveDefinition describes one remote slave and the coil addresses to
// poll on it. Addresses use the one-byte range 0-255.
type SlaveDefinition struct {
	// Name is a human-readable label used in logs and MQTT topics.
	Name string `yaml:"name"`

	// ID is the slave address on the bus (1-247).
	ID uint8 `yaml:"id"`

	// Coils lists the coil addresses to poll.
	Coils []uint16 `yaml:"coils"`
}

// SlavesFile is the root of the slave definitions file.
type SlavesFile struct {
	Slaves []SlaveDefinition `yaml:"slaves"`
}

// LoadSlaves reads and validates the slave definitions file.
func LoadSlaves(path string) (*SlavesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading slaves file: %w", err)
	}
	return ParseSlaves(data)
}

// ParseSlaves parses and validates slave definitions from YAML.
func ParseSlaves(data []byte) (*SlavesFile, error) {
	var file SlavesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("error parsing slaves file: %w", err)
	}

	if len(file.Slaves) == 0 {
		return nil, fmt.Errorf("slaves file defines no slaves")
	}

	seen := make(map[uint8]bool)
	for i := range file.Slaves {
		s := &file.Slaves[i]
		if !domain.ValidSlaveID(domain.SlaveID(s.ID)) {
			return nil, fmt.Errorf("slave %q: invalid id %d (must be 1-247)", s.Name, s.ID)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("slave %q: duplicate id %d", s.Name, s.ID)
		}
		seen[s.ID] = true

		if len(s.Coils) == 0 {
			return nil, fmt.Errorf("slave %q: no coils defined", s.Name)
		}
		for _, addr := range s.Coils {
			if addr > uint16(domain.MaxAddress) {
				return nil, fmt.Errorf("slave %q: coil address %d out of range (max %d)",
					s.Name, addr, domain.MaxAddress)
			}
		}
		if s.Name == "" {
			s.Name = fmt.Sprintf("slave-%d", s.ID)
		}
	}

	return &file, nil
}

// Addresses converts the definition's coil list to domain addresses.
func (s *SlaveDefinition) Addresses() []domain.Address {
	out := make([]domain.Address, len(s.Coils))
	for i, addr := range s.Coils {
		out[i] = domain.Address(addr)
	}
	return out
}
