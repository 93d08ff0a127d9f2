package configuration

import (
	"encoding/json"
	"os"
)

type MongoConfig struct {
	URI                     string `json:"uri"`
	Database                string `json:"database"`
	MessagesCollection      string `json:"messagesCollection"`
	ConversationsCollection string `json:"conversationsCollection"`
	UsersCollection         string `json:"usersCollection"`
	SessionsCollection      string `json:"sessionsCollection"`
}

type ServerConfig struct {
	AppPort        int      `json:"app_port"`
	SocketPort     int      `json:"socket_port"`
	SocketRoute    string   `json:"socket_route"`
	AllowedOrigins []string `json:"allowed_origins"`
}

type KafkaConfig struct {
	Brokers            []string `json:"brokers"`
	NotificationsTopic string   `json:"notifications_topic"`
}

type Config struct {
	ChatDatabase MongoConfig  `json:"mongo"`
	Server       ServerConfig `json:"server"`
	Kafka        KafkaConfig  `json:"kafka"`
}

// LoadConfig reads the JSON config file. Collections default to their
// conventional names so a minimal config only carries the URI and
// ports.
func LoadConfig(configPath string) (*Config, error) {
	file, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	if config.ChatDatabase.MessagesCollection == "" {
		config.ChatDatabase.MessagesCollection = "messages"
	}
	if config.ChatDatabase.ConversationsCollection == "" {
		config.ChatDatabase.ConversationsCollection = "conversations"
	}
	if config.ChatDatabase.UsersCollection == "" {
		config.ChatDatabase.UsersCollection = "users"
	}
	if config.ChatDatabase.SessionsCollection == "" {
		config.ChatDatabase.SessionsCollection = "sessions"
	}
	if config.Server.SocketRoute == "" {
		config.Server.SocketRoute = "ws"
	}
	return &config, nil
}
