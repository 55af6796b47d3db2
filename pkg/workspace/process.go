package workspace

import (
	"context"

	"github.com/shirou/gopsutil/v3/process"
)

// GopsutilLister enumerates processes through gopsutil.
type GopsutilLister struct{}

// Executables returns every executable path the current user can see. Processes
// that vanish or deny access mid-scan are skipped.
func (GopsutilLister) Executables(ctx context.Context) ([]string, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	exes := make([]string, 0, len(procs))
	for _, p := range procs {
		exe, err := p.ExeWithContext(ctx)
		if err != nil || exe == "" {
			continue
		}
		exes = append(exes, exe)
	}
	return exes, nil
}
