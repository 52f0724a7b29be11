package hook

import (
	"sync"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"
	"github.com/virgo-archive/tapir/pkg/errors"
)

// TengoExecutor executes hook scripts written in Tengo.
type TengoExecutor struct {
	scripts map[Type]string
	mutex   sync.RWMutex
}

// NewTengoExecutor creates an executor with no scripts registered.
func NewTengoExecutor() *TengoExecutor {
	return &TengoExecutor{
		scripts: make(map[Type]string),
	}
}

// Execute runs the script for the given hook point. A missing script is a
// no-op. A script signals failure by assigning a non-empty string or error
// to the variable "err".
func (e *TengoExecutor) Execute(hookType Type, ctx Context) error {
	e.mutex.RLock()
	script, exists := e.scripts[hookType]
	e.mutex.RUnlock()
	if !exists {
		return nil
	}

	instance := tengo.NewScript([]byte(script))
	instance.SetImports(stdlib.GetModuleMap("fmt", "os", "text", "times"))

	_ = instance.Add("url", ctx.URL)
	_ = instance.Add("localPath", ctx.LocalPath)
	_ = instance.Add("size", ctx.Size)
	_ = instance.Add("etag", ctx.ETag)
	for k, v := range ctx.Vars {
		_ = instance.Add(k, v)
	}

	compiled, err := instance.Run()
	if err != nil {
		return errors.Wrapf(errors.ErrHookExecution, "%s: %v", hookType, err)
	}

	if errVar := compiled.Get("err"); errVar != nil {
		switch v := errVar.Value().(type) {
		case error:
			return errors.Wrap(errors.ErrHookScript, v.Error())
		case string:
			if v != "" {
				return errors.Wrap(errors.ErrHookScript, v)
			}
		}
	}
	return nil
}

// AddScript registers or replaces the script for a hook point.
func (e *TengoExecutor) AddScript(hookType Type, script string) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.scripts[hookType] = script
}

// HasScript reports whether a script is registered for a hook point.
func (e *TengoExecutor) HasScript(hookType Type) bool {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	_, ok := e.scripts[hookType]
	return ok
}
