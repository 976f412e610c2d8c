package datastore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/dkeye/voicechat/internal/domain"
)

// ChannelSpec is one channel entry of the seed file.
type ChannelSpec struct {
	Name    string   `yaml:"name"`
	Kind    string   `yaml:"kind"`
	Private bool     `yaml:"private"`
	Members []string `yaml:"members"`
}

type ChannelsFile struct {
	Channels []ChannelSpec `yaml:"channels"`
}

// DefaultChannels is used when no seed file is configured or present.
func DefaultChannels() ChannelsFile {
	return ChannelsFile{Channels: []ChannelSpec{
		{Name: "general", Kind: string(domain.ChannelText)},
		{Name: "voice-lobby", Kind: string(domain.ChannelVoice)},
	}}
}

// LoadChannelsFile parses a YAML seed file. A missing file yields the defaults.
func LoadChannelsFile(path string) (ChannelsFile, error) {
	if path == "" {
		return DefaultChannels(), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultChannels(), nil
	}
	if err != nil {
		return ChannelsFile{}, fmt.Errorf("datastore: read channels file: %w", err)
	}
	var f ChannelsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return ChannelsFile{}, fmt.Errorf("datastore: parse channels file: %w", err)
	}
	return f, nil
}

// SeedChannels creates the seed channels when the store has none yet and
// returns how many were created. Unknown member usernames are skipped.
func SeedChannels(ctx context.Context, s Store, f ChannelsFile) (int, error) {
	n, err := s.CountChannels(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, nil
	}
	created := 0
	for _, entry := range f.Channels {
		c, err := domain.NewChannel(entry.Name, domain.ChannelKind(entry.Kind), entry.Private)
		if err != nil {
			return created, fmt.Errorf("datastore: seed channel %q: %w", entry.Name, err)
		}
		for _, name := range entry.Members {
			u, err := s.GetUserByUsername(ctx, name)
			if err != nil {
				return created, err
			}
			if u == nil {
				log.Warn().Str("module", "datastore").Str("channel", entry.Name).Str("member", name).Msg("seed member does not exist, skipping")
				continue
			}
			c.AddMember(u.ID)
		}
		if err := s.CreateChannel(ctx, c); err != nil {
			return created, err
		}
		created++
	}
	log.Info().Str("module", "datastore").Int("channels", created).Msg("seeded channels")
	return created, nil
}
