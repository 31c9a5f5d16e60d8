// Package store defines the persistence contract consumed by the rest of
// BotForge. The sqlite subpackage provides the default implementation.
package store

import "github.com/botforgehq/botforge/model"

// Store is durable storage for accounts, bots, node graphs, and AI
// configs. Graphs and AI configs use replace-on-save semantics; sessions
// are deliberately not persisted (in-flight conversation state does not
// survive a restart).
type Store interface {
	// Users.
	CreateUser(u *model.User) error
	GetUser(username string) (*model.User, error)
	VerifyUser(username, code string) error
	Authenticate(username, password string) (*model.User, error)

	// Bots.
	CreateBot(b *model.Bot) error
	GetBot(token string) (*model.Bot, error)
	ListBots() ([]*model.Bot, error)

	// Node graphs, keyed by bot token.
	SaveGraph(token string, g model.Graph) error
	LoadGraph(token string) (model.Graph, error)

	// AI configs, keyed by bot token. LoadAIConfig returns (nil, nil)
	// when no config is installed.
	SaveAIConfig(token string, cfg *model.AIConfig) error
	LoadAIConfig(token string) (*model.AIConfig, error)

	Close() error
}
