package models

/**
what the runtime dispatcher hands to the external scheduler: the command to run plus the input and output sandboxes
*/
type StandardJobConfig struct {
	Command       string
	InputSandbox  []SandboxEntry
	OutputSandbox []string
}

/**
add entries to the input sandbox, skipping any that are already present under the same sandbox name
*/
func (c *StandardJobConfig) AddInput(entries ...SandboxEntry) {
	for _, e := range entries {
		if !c.HasInput(e.SandboxName()) {
			c.InputSandbox = append(c.InputSandbox, e)
		}
	}
}

func (c *StandardJobConfig) HasInput(sandboxName string) bool {
	for _, existing := range c.InputSandbox {
		if existing.SandboxName() == sandboxName {
			return true
		}
	}
	return false
}

func (c *StandardJobConfig) AddOutput(patterns ...string) {
	for _, p := range patterns {
		found := false
		for _, existing := range c.OutputSandbox {
			if existing == p {
				found = true
				break
			}
		}
		if !found {
			c.OutputSandbox = append(c.OutputSandbox, p)
		}
	}
}

func (c *StandardJobConfig) InputSandboxNames() []string {
	rtn := make([]string, len(c.InputSandbox))
	for i, e := range c.InputSandbox {
		rtn[i] = e.SandboxName()
	}
	return rtn
}
