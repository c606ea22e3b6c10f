// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/talkrun-tui/internal/config"
	"github.com/jeranaias/talkrun-tui/internal/gateway"
	"github.com/jeranaias/talkrun-tui/internal/store"
	"github.com/jeranaias/talkrun-tui/internal/telemetry"
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// Command represents a slash command that can be executed.
type Command struct {
	// Name is the primary command name (e.g., "/help")
	Name string

	// Aliases are alternative names (e.g., "/h", "/?")
	Aliases []string

	// Description is shown in help and completion
	Description string

	// Usage shows argument syntax (e.g., "/model <name>")
	Usage string

	// Args defines the expected arguments
	Args []ArgDef

	// Handler is the function that executes the command
	Handler func(ctx *Context, args []string) tea.Cmd

	// Hidden commands don't appear in help
	Hidden bool

	// Category for grouping in help display
	Category string
}

// ArgDef defines an argument for a command.
type ArgDef struct {
	// Name of the argument
	Name string

	// Required indicates if the argument must be provided
	Required bool

	// Type determines completion behavior
	Type ArgType

	// Description explains the argument
	Description string

	// Values for enum types
	Values []string
}

// ArgType indicates what kind of completion to provide.
type ArgType int

const (
	ArgTypeString ArgType = iota // Free-form string
	ArgTypeModel                 // Model name
	ArgTypeTalk                  // Talk ID from the store
	ArgTypeEnum                  // One of predefined values
)

// =============================================================================
// COMMAND REGISTRY
// =============================================================================

// Registry holds all registered commands.
type Registry struct {
	commands map[string]*Command
	aliases  map[string]*Command
}

// NewRegistry creates a new command registry with all built-in commands.
func NewRegistry() *Registry {
	r := &Registry{
		commands: make(map[string]*Command),
		aliases:  make(map[string]*Command),
	}
	r.registerBuiltins()
	return r
}

// Register adds a command to the registry.
func (r *Registry) Register(cmd *Command) {
	r.commands[cmd.Name] = cmd
	for _, alias := range cmd.Aliases {
		r.aliases[alias] = cmd
	}
}

// Get retrieves a command by name or alias.
func (r *Registry) Get(name string) *Command {
	if cmd, ok := r.commands[name]; ok {
		return cmd
	}
	if cmd, ok := r.aliases[name]; ok {
		return cmd
	}
	return nil
}

// All returns all registered commands.
func (r *Registry) All() []*Command {
	cmds := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		cmds = append(cmds, cmd)
	}
	return cmds
}

// ByCategory returns visible commands grouped by category.
func (r *Registry) ByCategory() map[string][]*Command {
	result := make(map[string][]*Command)
	for _, cmd := range r.commands {
		if cmd.Hidden {
			continue
		}
		category := cmd.Category
		if category == "" {
			category = "General"
		}
		result[category] = append(result[category], cmd)
	}
	return result
}

// =============================================================================
// BUILT-IN COMMANDS
// =============================================================================

func (r *Registry) registerBuiltins() {
	// Navigation
	r.Register(&Command{
		Name:        "/help",
		Aliases:     []string{"/h", "/?"},
		Description: "Show help and available commands",
		Usage:       "/help [topic]",
		Args: []ArgDef{
			{Name: "topic", Type: ArgTypeString, Description: "Help topic"},
		},
		Category: "Navigation",
		Handler:  HandleHelp,
	})

	r.Register(&Command{
		Name:        "/quit",
		Aliases:     []string{"/q", "/exit"},
		Description: "Exit talkrun",
		Category:    "Navigation",
		Handler:     HandleQuit,
	})

	// Talks
	r.Register(&Command{
		Name:        "/new",
		Aliases:     []string{"/n"},
		Description: "Start a new talk",
		Category:    "Talks",
		Handler:     HandleNew,
	})

	r.Register(&Command{
		Name:        "/save",
		Aliases:     []string{"/s"},
		Description: "Mark the current talk as saved",
		Category:    "Talks",
		Handler:     HandleSave,
	})

	r.Register(&Command{
		Name:        "/talks",
		Aliases:     []string{"/list"},
		Description: "List stored talks",
		Category:    "Talks",
		Handler:     HandleTalks,
	})

	r.Register(&Command{
		Name:        "/load",
		Aliases:     []string{"/l"},
		Description: "Load a stored talk",
		Usage:       "/load <talk_id>",
		Args: []ArgDef{
			{Name: "talk_id", Required: true, Type: ArgTypeTalk, Description: "ID of the talk to load"},
		},
		Category: "Talks",
		Handler:  HandleLoad,
	})

	r.Register(&Command{
		Name:        "/delete",
		Aliases:     []string{"/rm"},
		Description: "Delete a stored talk",
		Usage:       "/delete <talk_id>",
		Args: []ArgDef{
			{Name: "talk_id", Required: true, Type: ArgTypeTalk, Description: "ID of the talk to delete"},
		},
		Category: "Talks",
		Handler:  HandleDelete,
	})

	r.Register(&Command{
		Name:        "/search",
		Description: "Search stored talks",
		Usage:       "/search <query>",
		Args: []ArgDef{
			{Name: "query", Required: true, Type: ArgTypeString, Description: "Text to search for"},
		},
		Category: "Talks",
		Handler:  HandleSearch,
	})

	r.Register(&Command{
		Name:        "/export",
		Description: "Export the current talk to a file",
		Usage:       "/export [markdown|json]",
		Args: []ArgDef{
			{Name: "format", Type: ArgTypeEnum, Values: []string{"markdown", "json"}, Description: "Export format"},
		},
		Category: "Talks",
		Handler:  HandleExport,
	})

	r.Register(&Command{
		Name:        "/sync",
		Description: "Pull the gateway's view of the current talk",
		Category:    "Talks",
		Handler:     HandleSync,
	})

	// Model
	r.Register(&Command{
		Name:        "/model",
		Aliases:     []string{"/m"},
		Description: "Switch or show the current model",
		Usage:       "/model [name]",
		Args: []ArgDef{
			{Name: "name", Type: ArgTypeModel, Description: "Model to switch to"},
		},
		Category: "Model",
		Handler:  HandleModel,
	})

	// Voice
	r.Register(&Command{
		Name:        "/voice",
		Aliases:     []string{"/v"},
		Description: "Start or stop voice mode",
		Usage:       "/voice [on|off]",
		Args: []ArgDef{
			{Name: "state", Type: ArgTypeEnum, Values: []string{"on", "off"}, Description: "Turn voice mode on or off"},
		},
		Category: "Voice",
		Handler:  HandleVoice,
	})

	r.Register(&Command{
		Name:        "/mute",
		Description: "Toggle the microphone while in voice mode",
		Category:    "Voice",
		Handler:     HandleMute,
	})

	// Settings
	r.Register(&Command{
		Name:        "/status",
		Description: "Show gateway and session status",
		Category:    "Settings",
		Handler:     HandleStatus,
	})

	r.Register(&Command{
		Name:        "/usage",
		Description: "Show token usage totals",
		Usage:       "/usage [talk]",
		Args: []ArgDef{
			{Name: "scope", Type: ArgTypeEnum, Values: []string{"talk", "all"}, Description: "Totals scope"},
		},
		Category: "Settings",
		Handler:  HandleUsage,
	})

	r.Register(&Command{
		Name:        "/theme",
		Description: "Change color theme",
		Usage:       "/theme <dark|light|auto>",
		Args: []ArgDef{
			{Name: "name", Required: true, Type: ArgTypeEnum, Values: []string{"dark", "light", "auto"}, Description: "Theme name"},
		},
		Category: "Settings",
		Handler:  HandleTheme,
	})
}

// =============================================================================
// CONTEXT TYPE
// =============================================================================

// Context provides access to application state for command handlers.
// All fields are optional and may be nil - handlers check before use.
type Context struct {
	// Config provides access to application configuration
	Config *config.Config

	// Gateway is the remote gateway client
	Gateway *gateway.Client

	// Store handles talk persistence
	Store *store.TalkStore

	// Ledger tracks token usage
	Ledger *telemetry.UsageLedger

	// CurrentTalkID is the talk the user is looking at
	CurrentTalkID string
}

// NewContext creates a new command context with the given dependencies.
// All parameters are optional and can be nil.
func NewContext(cfg *config.Config, client *gateway.Client, talks *store.TalkStore, ledger *telemetry.UsageLedger) *Context {
	return &Context{
		Config:  cfg,
		Gateway: client,
		Store:   talks,
		Ledger:  ledger,
	}
}
