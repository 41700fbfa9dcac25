package config

type RedisSettings struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Address  string `yaml:"address" json:"address"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
}

type DatabaseSettings struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

type TutorialSettings struct {
	Layouts       []string `yaml:"layouts" json:"layouts"`
	PhaseTwoScore int      `yaml:"phaseTwoScore" json:"phaseTwoScore"`
}

type PredefinedSettings struct {
	Layouts  []string `yaml:"layouts" json:"layouts"`
	GameTime int      `yaml:"gameTime" json:"gameTime"`
}

type ServerSettings struct {
	Port int `yaml:"port" json:"port"`
	// Simulation steps (and broadcasts) per second.
	FPS      int `yaml:"fps" json:"fps"`
	MaxGames int `yaml:"maxGames" json:"maxGames"`
	// Upper bound on any requested game time, in seconds.
	MaxGameTime int `yaml:"maxGameTime" json:"maxGameTime"`
	// How long a queued connection waits before end_lobby, in seconds.
	LobbyWaitTimeout int `yaml:"lobbyWaitTimeout" json:"lobbyWaitTimeout"`
	// Client display delay between phases, in milliseconds.
	ResetTimeout int `yaml:"resetTimeout" json:"resetTimeout"`

	Layouts    []string           `yaml:"layouts" json:"layouts"`
	Tutorial   TutorialSettings   `yaml:"tutorial" json:"tutorial"`
	Predefined PredefinedSettings `yaml:"predefined" json:"predefined"`

	Redis    RedisSettings    `yaml:"redis" json:"redis"`
	Database DatabaseSettings `yaml:"database" json:"database"`
}

type Config struct {
	Server ServerSettings `yaml:"server" json:"server"`
}
