package config

// Config describes one tracked source: a podcast feed subscribed over
// WebSub, a video channel imported by polling, or both.
type Config struct {
	Name     string         `yaml:"-"`
	Feed     ConfigFeed     `yaml:"feed"`
	Channel  ConfigChannel  `yaml:"channel"`
	Settings ConfigSettings `yaml:"settings"`
}

type ConfigFeed struct {
	Topic string `yaml:"topic"`
	Hub   string `yaml:"hub"`
}

type ConfigChannel struct {
	ID               string `yaml:"id"`
	VideosPerChannel int    `yaml:"videos_per_channel"` // non-positive means all
}

type ConfigSettings struct {
	Enabled      bool `yaml:"enabled"`
	ExtractNotes bool `yaml:"extract_notes"` // fetch episode pages for full show notes
}
