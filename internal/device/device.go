// Package device owns the process-wide GPU runtime lifecycle. A Context is
// created once, initialized once before any kernel work, and torn down once
// at shutdown. Init and Teardown require external serialization; everything
// else is safe for concurrent use.
package device

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"go.uber.org/zap"

	// Registers the Vulkan backend via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

type Options struct {
	// RequireGPU fails Init when no compatible adapter is present instead of
	// falling back to the software kernels.
	RequireGPU bool

	// Software skips adapter acquisition entirely and runs all kernels on
	// the CPU reference path.
	Software bool

	// MaxMemoryMB bounds concurrent device allocations. <= 0 selects the
	// default budget.
	MaxMemoryMB int
}

const defaultMaxMemoryMB = 256

type Context struct {
	mu   sync.RWMutex
	opts Options

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue

	adapterName string
	software    bool
	initialized bool

	budgetBytes uint64
	usedBytes   uint64
}

func New(opts Options) *Context {
	maxMB := opts.MaxMemoryMB
	if maxMB <= 0 {
		maxMB = defaultMaxMemoryMB
	}

	return &Context{
		opts:        opts,
		budgetBytes: uint64(maxMB) * 1024 * 1024,
	}
}

// Init acquires the GPU adapter, device and queue. It is idempotent: calling
// it on an already-initialized context is a no-op. On machines without a
// usable adapter it either fails with a typed InitializationError
// (RequireGPU) or falls back to the software kernels.
func (c *Context) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return nil
	}

	if c.opts.Software {
		c.software = true
		c.initialized = true

		zap.S().Infow("device context initialized",
			"mode", "software",
		)

		return nil
	}

	if err := c.acquireLocked(); err != nil {
		if c.opts.RequireGPU {
			return err
		}

		zap.S().Warnw("gpu unavailable, falling back to software kernels",
			"error", err,
		)

		c.software = true
		c.initialized = true

		return nil
	}

	c.initialized = true

	zap.S().Infow("device context initialized",
		"mode", "gpu",
		"adapter", c.adapterName,
	)

	return nil
}

func (c *Context) acquireLocked() error {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return &InitializationError{Reason: FailureNoBackend, Err: fmt.Errorf("vulkan backend not available")}
	}

	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return &InitializationError{Reason: FailureNoBackend, Err: err}
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return &InitializationError{Reason: FailureNoAdapter, Err: fmt.Errorf("no GPU adapters found")}
	}

	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return &InitializationError{Reason: FailureDeviceOpen, Err: err}
	}

	c.instance = instance
	c.device = openDev.Device
	c.queue = openDev.Queue
	c.adapterName = selected.Info.Name

	return nil
}

// Teardown releases the device and instance and invalidates the context.
// Callers must not invoke it while tier operations are in flight.
func (c *Context) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return
	}

	if c.device != nil {
		c.device.Destroy()
		c.device = nil
	}

	if c.instance != nil {
		c.instance.Destroy()
		c.instance = nil
	}

	c.queue = nil
	c.adapterName = ""
	c.software = false
	c.initialized = false
	c.usedBytes = 0

	zap.S().Info("device context torn down")
}

func (c *Context) Initialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.initialized
}

// Software reports whether kernels execute on the CPU reference path.
func (c *Context) Software() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.software
}

func (c *Context) AdapterName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.adapterName
}

// HAL returns the live device and queue, failing fast when the context is
// uninitialized or running in software mode.
func (c *Context) HAL() (hal.Device, hal.Queue, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.initialized {
		return nil, nil, ErrNotInitialized
	}

	if c.software {
		return nil, nil, fmt.Errorf("device: software mode has no HAL device")
	}

	return c.device, c.queue, nil
}

// Reserve accounts n bytes of device memory against the budget. Exceeding
// the budget surfaces as ErrMemoryBudgetExceeded, never as corruption.
func (c *Context) Reserve(n uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return ErrNotInitialized
	}

	if c.usedBytes+n > c.budgetBytes {
		return fmt.Errorf("%w: %d bytes requested, %d of %d in use",
			ErrMemoryBudgetExceeded, n, c.usedBytes, c.budgetBytes)
	}

	c.usedBytes += n

	return nil
}

// Release returns n previously reserved bytes to the budget.
func (c *Context) Release(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n > c.usedBytes {
		c.usedBytes = 0
		return
	}

	c.usedBytes -= n
}
