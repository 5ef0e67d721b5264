package intake

import (
	"encoding/json"
	"io/ioutil"
	"os"

	"github.com/google/renameio"
	"golang.org/x/xerrors"
)

// toolRegistry is the rolling tools index (tools.json): name -> version
// currently deposited in <project>/rolling/tool_repo. Guarded by the
// project's ToolRepoLock (spec §4.7: "guard with the project's tool-repo
// lock... if absent or the tools registry version does not match, copy
// into rolling and update the registry").
type toolRegistry map[string]string

func loadToolRegistry(path string) (toolRegistry, error) {
	b, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		return toolRegistry{}, nil
	}
	if err != nil {
		return nil, xerrors.Errorf("intake: read tool registry: %w", err)
	}
	var reg toolRegistry
	if err := json.Unmarshal(b, &reg); err != nil {
		return nil, xerrors.Errorf("intake: decode tool registry: %w", err)
	}
	return reg, nil
}

// saveToolRegistry rewrites tools.json atomically (spec §2 domain stack:
// renameio-backed registry rewrite, matching the <project>/current
// symlink swap's atomicity).
func saveToolRegistry(path string, reg toolRegistry) error {
	b, err := json.Marshal(reg)
	if err != nil {
		return xerrors.Errorf("intake: encode tool registry: %w", err)
	}
	if err := renameio.WriteFile(path, b, 0644); err != nil {
		return xerrors.Errorf("intake: write tool registry: %w", err)
	}
	return nil
}
