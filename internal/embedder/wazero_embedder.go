package embedder

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/weisyn/theater/internal/handler"
	"github.com/weisyn/theater/internal/log"
)

// WazeroEmbedder instantiates guests with tetratelabs/wazero. It only knows
// how to compile a module, bind host functions a Handler registered, and
// call named exports.
type WazeroEmbedder struct {
	logger  log.Logger
	runtime wazero.Runtime

	mu      sync.Mutex
	compile map[string]wazero.CompiledModule // keyed by a digest of the bytes
}

// Config tunes the underlying wazero runtime.
type Config struct {
	UseCompiler    bool
	MaxMemoryPages uint32
	EnableWASI     bool
}

func (c Config) withDefaults() Config {
	if c.MaxMemoryPages == 0 {
		c.MaxMemoryPages = 1024 // 64MiB
	}
	return c
}

// NewWazeroEmbedder builds an Embedder around a fresh wazero runtime.
func NewWazeroEmbedder(ctx context.Context, logger log.Logger, cfg Config) (*WazeroEmbedder, error) {
	if logger == nil {
		logger = log.Nop()
	}
	cfg = cfg.withDefaults()

	var rc wazero.RuntimeConfig
	if cfg.UseCompiler {
		rc = wazero.NewRuntimeConfig().WithCompilationCache(wazero.NewCompilationCache())
	} else {
		rc = wazero.NewRuntimeConfig()
	}
	rc = rc.WithMemoryLimitPages(cfg.MaxMemoryPages)

	rt := wazero.NewRuntimeWithConfig(ctx, rc)
	if cfg.EnableWASI {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
			return nil, fmt.Errorf("embedder: instantiate WASI: %w", err)
		}
	}
	return &WazeroEmbedder{logger: logger, runtime: rt, compile: make(map[string]wazero.CompiledModule)}, nil
}

// NewLinker returns a fresh wazero-backed Linker bound to this runtime.
func (e *WazeroEmbedder) NewLinker() handler.Linker {
	return &wazeroLinker{runtime: e.runtime, modules: make(map[string]wazero.HostModuleBuilder)}
}

// Instantiate compiles componentBytes (caching on their content digest) and
// instantiates the module with every host module the linker built.
func (e *WazeroEmbedder) Instantiate(ctx context.Context, componentBytes []byte, l handler.Linker) (handler.Instance, error) {
	wl, ok := l.(*wazeroLinker)
	if !ok {
		return nil, fmt.Errorf("embedder: linker was not created by NewLinker")
	}

	digest := digestKey(componentBytes)
	e.mu.Lock()
	compiled, ok := e.compile[digest]
	e.mu.Unlock()
	if !ok {
		var err error
		compiled, err = e.runtime.CompileModule(ctx, componentBytes)
		if err != nil {
			return nil, fmt.Errorf("embedder: compile module: %w", err)
		}
		e.mu.Lock()
		e.compile[digest] = compiled
		e.mu.Unlock()
	}

	for _, mod := range wl.modules {
		if _, err := mod.Instantiate(ctx); err != nil {
			return nil, fmt.Errorf("embedder: instantiate host module: %w", err)
		}
	}

	modCfg := wazero.NewModuleConfig().WithStartFunctions()
	mod, err := e.runtime.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		return nil, fmt.Errorf("embedder: instantiate guest module: %w", err)
	}
	return &wazeroInstance{mod: mod}, nil
}

// Close tears down the wazero runtime and every compiled module it holds.
func (e *WazeroEmbedder) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

func digestKey(b []byte) string {
	h := fnv.New64a()
	h.Write(b)
	return string(h.Sum(nil))
}

// wazeroLinker accumulates host module builders, one per interface name, so
// that SetupHostFunctions calls across several handlers share a single
// runtime-level HostModuleBuilder per interface.
type wazeroLinker struct {
	runtime wazero.Runtime
	modules map[string]wazero.HostModuleBuilder
}

func (l *wazeroLinker) DefineFunction(interfaceName, functionName string, fn handler.HostFunc) error {
	mod, ok := l.modules[interfaceName]
	if !ok {
		mod = l.runtime.NewHostModuleBuilder(interfaceName)
		l.modules[interfaceName] = mod
	}
	mod.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, argsPtr, argsLen, outPtr, outLen uint32) uint32 {
			args, ok := m.Memory().Read(argsPtr, argsLen)
			if !ok {
				return 1
			}
			out, err := fn(ctx, args)
			if err != nil {
				return 1
			}
			if outLen < uint32(len(out)) {
				return 2
			}
			if !m.Memory().Write(outPtr, out) {
				return 1
			}
			return 0
		}).
		Export(functionName)
	return nil
}

type wazeroInstance struct {
	mod api.Module
}

func (i *wazeroInstance) Call(ctx context.Context, export string, args []byte) ([]byte, error) {
	fn := i.mod.ExportedFunction(export)
	if fn == nil {
		return nil, fmt.Errorf("embedder: export %q not found", export)
	}
	// This minimal binding passes the export a single uint64 argument, the
	// length of args; the bytes of args are not written into the guest's
	// linear memory. The result is the export's first return value encoded
	// as 8 little-endian bytes.
	results, err := fn.Call(ctx, uint64(len(args)))
	if err != nil {
		return nil, fmt.Errorf("embedder: call %q: %w", export, err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	return uint64ToBytes(results[0]), nil
}

func (i *wazeroInstance) HasExport(export string) bool {
	return i.mod.ExportedFunction(export) != nil
}

func uint64ToBytes(v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}
