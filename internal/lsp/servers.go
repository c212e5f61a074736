// ABOUTME: Builtin language-server registry mapping file extensions to server specs.
// ABOUTME: Resolves config overrides and detects missing installs before any spawn.

package lsp

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/2389/coven-plugin/internal/config"
)

// ServerSpec describes how to launch one language server.
type ServerSpec struct {
	ID          string
	Command     string
	Args        []string
	Extensions  []string
	InstallHint string
}

// builtinServers is the default registry. Config entries with the same ID
// override these; additional config entries extend the set.
var builtinServers = []ServerSpec{
	{
		ID:          "gopls",
		Command:     "gopls",
		Extensions:  []string{".go"},
		InstallHint: "go install golang.org/x/tools/gopls@latest",
	},
	{
		ID:          "typescript-language-server",
		Command:     "typescript-language-server",
		Args:        []string{"--stdio"},
		Extensions:  []string{".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs"},
		InstallHint: "npm install -g typescript-language-server typescript",
	},
	{
		ID:          "pyright",
		Command:     "pyright-langserver",
		Args:        []string{"--stdio"},
		Extensions:  []string{".py", ".pyi"},
		InstallHint: "npm install -g pyright",
	},
	{
		ID:          "rust-analyzer",
		Command:     "rust-analyzer",
		Extensions:  []string{".rs"},
		InstallHint: "rustup component add rust-analyzer",
	},
	{
		ID:          "clangd",
		Command:     "clangd",
		Extensions:  []string{".c", ".h", ".cc", ".cpp", ".hpp"},
		InstallHint: "install clangd from your package manager",
	},
	{
		ID:          "jdtls",
		Command:     "jdtls",
		Extensions:  []string{".java"},
		InstallHint: "install Eclipse JDT language server (jdtls)",
	},
	{
		ID:          "solargraph",
		Command:     "solargraph",
		Args:        []string{"stdio"},
		Extensions:  []string{".rb"},
		InstallHint: "gem install solargraph",
	},
}

// NotInstalledError reports a known server whose binary is missing. It is
// raised before any spawn attempt so callers get the install hint instead of
// an exec failure.
type NotInstalledError struct {
	ServerID    string
	Command     string
	InstallHint string
}

func (e *NotInstalledError) Error() string {
	msg := fmt.Sprintf("language server %s is not installed (%s not found on PATH)", e.ServerID, e.Command)
	if e.InstallHint != "" {
		msg += "; install with: " + e.InstallHint
	}
	return msg
}

// UnsupportedFileError reports a file extension no registered server handles.
type UnsupportedFileError struct {
	Path string
}

func (e *UnsupportedFileError) Error() string {
	return fmt.Sprintf("no language server registered for %s", filepath.Ext(e.Path))
}

// Registry resolves files to launchable server specs.
type Registry struct {
	byExtension map[string]ServerSpec
	disabled    map[string]bool

	// lookPath is a test hook over exec.LookPath.
	lookPath func(string) (string, error)
}

// NewRegistry builds a registry from the builtin table merged with config
// overrides. Disabled servers resolve to UnsupportedFileError.
func NewRegistry(cfg config.LSPConfig) *Registry {
	r := &Registry{
		byExtension: make(map[string]ServerSpec),
		disabled:    make(map[string]bool),
		lookPath:    exec.LookPath,
	}

	for _, srv := range builtinServers {
		for _, ext := range srv.Extensions {
			r.byExtension[ext] = srv
		}
	}

	for id, override := range cfg.Servers {
		srv := ServerSpec{
			ID:          id,
			Command:     override.Command,
			Args:        override.Args,
			Extensions:  override.Extensions,
			InstallHint: override.InstallHint,
		}
		for _, ext := range srv.Extensions {
			r.byExtension[ext] = srv
		}
	}

	for _, id := range cfg.Disabled {
		r.disabled[id] = true
	}

	return r
}

// ServerForFile returns the launchable spec for the given file, or a typed
// error: UnsupportedFileError when no server matches or the match is
// disabled, NotInstalledError when the binary is not on PATH.
func (r *Registry) ServerForFile(path string) (ServerSpec, error) {
	ext := strings.ToLower(filepath.Ext(path))
	srv, ok := r.byExtension[ext]
	if !ok || r.disabled[srv.ID] {
		return ServerSpec{}, &UnsupportedFileError{Path: path}
	}

	if _, err := r.lookPath(srv.Command); err != nil {
		return ServerSpec{}, &NotInstalledError{
			ServerID:    srv.ID,
			Command:     srv.Command,
			InstallHint: srv.InstallHint,
		}
	}

	return srv, nil
}

// languageIdentifiers maps extensions to LSP language identifiers sent in
// didOpen notifications.
var languageIdentifiers = map[string]string{
	".go":   "go",
	".ts":   "typescript",
	".tsx":  "typescriptreact",
	".js":   "javascript",
	".jsx":  "javascriptreact",
	".mjs":  "javascript",
	".cjs":  "javascript",
	".py":   "python",
	".pyi":  "python",
	".rs":   "rust",
	".c":    "c",
	".h":    "c",
	".cc":   "cpp",
	".cpp":  "cpp",
	".hpp":  "cpp",
	".java": "java",
	".rb":   "ruby",
	".json": "json",
	".yaml": "yaml",
	".yml":  "yaml",
	".md":   "markdown",
}

// languageID synthesizes the LSP language identifier for a path, falling back
// to the bare extension for unknown types.
func languageID(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if id, ok := languageIdentifiers[ext]; ok {
		return id
	}
	return strings.TrimPrefix(ext, ".")
}
