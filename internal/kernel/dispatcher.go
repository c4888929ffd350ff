package kernel

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/thumbforge/preview-processor/internal/device"
)

const (
	workgroupDim = 8
	paramsSize   = 16
	gpuTimeout   = 5 * time.Second
)

// Dispatcher owns the compute pipelines for the two kernels and routes each
// call to the GPU or the CPU reference path depending on the device mode.
// GPU submissions are serialized; callers may invoke kernels concurrently.
type Dispatcher struct {
	dev *device.Context

	mu sync.Mutex

	resampleShader   hal.ShaderModule
	blurShader       hal.ShaderModule
	bindLayout       hal.BindGroupLayout
	pipeLayout       hal.PipelineLayout
	resamplePipeline hal.ComputePipeline
	blurPipeline     hal.ComputePipeline

	gpuReady bool
}

func NewDispatcher(dev *device.Context) *Dispatcher {
	return &Dispatcher{dev: dev}
}

// Init compiles the shader modules and builds the compute pipelines. It is
// a no-op in software mode. The device context must already be initialized.
func (d *Dispatcher) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.dev.Initialized() {
		return device.ErrNotInitialized
	}

	if d.dev.Software() || d.gpuReady {
		return nil
	}

	hdev, _, err := d.dev.HAL()
	if err != nil {
		return err
	}

	if err := d.createPipelines(hdev); err != nil {
		d.destroyPipelinesLocked(hdev)
		return err
	}

	d.gpuReady = true

	return nil
}

// Close destroys the pipelines. The device context itself stays alive, the
// caller tears it down separately.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.gpuReady {
		return
	}

	if hdev, _, err := d.dev.HAL(); err == nil {
		d.destroyPipelinesLocked(hdev)
	}

	d.gpuReady = false
}

func (d *Dispatcher) createPipelines(hdev hal.Device) error {
	resampleShader, err := hdev.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "resample",
		Source: hal.ShaderSource{WGSL: resampleShaderSource},
	})
	if err != nil {
		return fmt.Errorf("compile resample shader: %w", err)
	}
	d.resampleShader = resampleShader

	blurShader, err := hdev.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "blur",
		Source: hal.ShaderSource{WGSL: blurShaderSource},
	})
	if err != nil {
		return fmt.Errorf("compile blur shader: %w", err)
	}
	d.blurShader = blurShader

	// Both kernels bind (uniform params, read-only src, writable dst), so
	// they share one layout.
	bindLayout, err := hdev.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "kernel_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
			{Binding: 1, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
			{Binding: 2, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
		},
	})
	if err != nil {
		return fmt.Errorf("create bind group layout: %w", err)
	}
	d.bindLayout = bindLayout

	pipeLayout, err := hdev.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: "kernel_pipe_layout", BindGroupLayouts: []hal.BindGroupLayout{d.bindLayout},
	})
	if err != nil {
		return fmt.Errorf("create pipeline layout: %w", err)
	}
	d.pipeLayout = pipeLayout

	resamplePipeline, err := hdev.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label: "resample_pipeline", Layout: d.pipeLayout,
		Compute: hal.ComputeState{Module: d.resampleShader, EntryPoint: "main"},
	})
	if err != nil {
		return fmt.Errorf("create resample pipeline: %w", err)
	}
	d.resamplePipeline = resamplePipeline

	blurPipeline, err := hdev.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label: "blur_pipeline", Layout: d.pipeLayout,
		Compute: hal.ComputeState{Module: d.blurShader, EntryPoint: "main"},
	})
	if err != nil {
		return fmt.Errorf("create blur pipeline: %w", err)
	}
	d.blurPipeline = blurPipeline

	return nil
}

func (d *Dispatcher) destroyPipelinesLocked(hdev hal.Device) {
	if d.blurPipeline != nil {
		hdev.DestroyComputePipeline(d.blurPipeline)
		d.blurPipeline = nil
	}
	if d.resamplePipeline != nil {
		hdev.DestroyComputePipeline(d.resamplePipeline)
		d.resamplePipeline = nil
	}
	if d.pipeLayout != nil {
		hdev.DestroyPipelineLayout(d.pipeLayout)
		d.pipeLayout = nil
	}
	if d.bindLayout != nil {
		hdev.DestroyBindGroupLayout(d.bindLayout)
		d.bindLayout = nil
	}
	if d.blurShader != nil {
		hdev.DestroyShaderModule(d.blurShader)
		d.blurShader = nil
	}
	if d.resampleShader != nil {
		hdev.DestroyShaderModule(d.resampleShader)
		d.resampleShader = nil
	}
}

// Resample scales src so its longer edge fits targetMax, preserving aspect
// ratio. Images already within the bound are returned as an untouched copy.
func (d *Dispatcher) Resample(src *Image, targetMax int) (*Image, error) {
	if err := src.validate(); err != nil {
		return nil, err
	}

	if !d.dev.Initialized() {
		return nil, device.ErrNotInitialized
	}

	dstW, dstH := FitDimensions(src.Width, src.Height, targetMax)
	if dstW == src.Width && dstH == src.Height {
		return src.Clone(), nil
	}

	if d.dev.Software() {
		return resampleCPU(src, dstW, dstH), nil
	}

	return d.dispatchResample(src, dstW, dstH)
}

// Blur applies a Gaussian blur of the given radius. Radius 0 is a copy.
func (d *Dispatcher) Blur(src *Image, radius int) (*Image, error) {
	if err := src.validate(); err != nil {
		return nil, err
	}

	if radius < 0 {
		return nil, fmt.Errorf("kernel: negative blur radius %d", radius)
	}

	if !d.dev.Initialized() {
		return nil, device.ErrNotInitialized
	}

	if radius == 0 {
		return src.Clone(), nil
	}

	if d.dev.Software() {
		return blurCPU(src, radius), nil
	}

	return d.dispatchBlur(src, radius)
}

func packParams(a, b, c, e uint32) []byte {
	out := make([]byte, paramsSize)
	binary.LittleEndian.PutUint32(out[0:], a)
	binary.LittleEndian.PutUint32(out[4:], b)
	binary.LittleEndian.PutUint32(out[8:], c)
	binary.LittleEndian.PutUint32(out[12:], e)

	return out
}

func (d *Dispatcher) dispatchResample(src *Image, dstW, dstH int) (*Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.gpuReady {
		return nil, fmt.Errorf("kernel: dispatcher not initialized")
	}

	hdev, queue, err := d.dev.HAL()
	if err != nil {
		return nil, err
	}

	srcSize := uint64(len(src.Pix))
	dstSize := uint64(dstW * dstH * 4)

	// Staging buffer doubles the destination footprint.
	reserved := srcSize + 2*dstSize + paramsSize
	if err := d.dev.Reserve(reserved); err != nil {
		return nil, err
	}
	defer d.dev.Release(reserved)

	paramsBuf, err := hdev.CreateBuffer(&hal.BufferDescriptor{
		Label: "resample_params", Size: paramsSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("create params buffer: %w", err)
	}
	defer hdev.DestroyBuffer(paramsBuf)

	srcBuf, err := hdev.CreateBuffer(&hal.BufferDescriptor{
		Label: "resample_src", Size: srcSize,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("create source buffer: %w", err)
	}
	defer hdev.DestroyBuffer(srcBuf)

	dstBuf, err := hdev.CreateBuffer(&hal.BufferDescriptor{
		Label: "resample_dst", Size: dstSize,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc,
	})
	if err != nil {
		return nil, fmt.Errorf("create destination buffer: %w", err)
	}
	defer hdev.DestroyBuffer(dstBuf)

	stagingBuf, err := hdev.CreateBuffer(&hal.BufferDescriptor{
		Label: "resample_staging", Size: dstSize,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("create staging buffer: %w", err)
	}
	defer hdev.DestroyBuffer(stagingBuf)

	queue.WriteBuffer(paramsBuf, 0, packParams(uint32(src.Width), uint32(src.Height), uint32(dstW), uint32(dstH)))
	queue.WriteBuffer(srcBuf, 0, src.Pix)

	bindGroup, err := hdev.CreateBindGroup(&hal.BindGroupDescriptor{
		Label: "resample_bind", Layout: d.bindLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: paramsBuf.NativeHandle(), Offset: 0, Size: paramsSize}},
			{Binding: 1, Resource: gputypes.BufferBinding{Buffer: srcBuf.NativeHandle(), Offset: 0, Size: srcSize}},
			{Binding: 2, Resource: gputypes.BufferBinding{Buffer: dstBuf.NativeHandle(), Offset: 0, Size: dstSize}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create bind group: %w", err)
	}
	defer hdev.DestroyBindGroup(bindGroup)

	encoder, err := hdev.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "resample_encoder"})
	if err != nil {
		return nil, fmt.Errorf("create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("resample"); err != nil {
		return nil, fmt.Errorf("begin encoding: %w", err)
	}

	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "resample_pass"})
	pass.SetPipeline(d.resamplePipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	pass.Dispatch(groups(dstW), groups(dstH), 1)
	pass.End()

	encoder.CopyBufferToBuffer(dstBuf, stagingBuf, []hal.BufferCopy{
		{SrcOffset: 0, DstOffset: 0, Size: dstSize},
	})

	out := NewImage(dstW, dstH)
	if err := d.submitAndRead(hdev, queue, encoder, stagingBuf, out.Pix); err != nil {
		return nil, err
	}

	return out, nil
}

func (d *Dispatcher) dispatchBlur(src *Image, radius int) (*Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.gpuReady {
		return nil, fmt.Errorf("kernel: dispatcher not initialized")
	}

	hdev, queue, err := d.dev.HAL()
	if err != nil {
		return nil, err
	}

	pixSize := uint64(len(src.Pix))

	// src + intermediate + dst + staging, all full-size.
	reserved := 4*pixSize + 2*paramsSize
	if err := d.dev.Reserve(reserved); err != nil {
		return nil, err
	}
	defer d.dev.Release(reserved)

	srcBuf, err := hdev.CreateBuffer(&hal.BufferDescriptor{
		Label: "blur_src", Size: pixSize,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("create source buffer: %w", err)
	}
	defer hdev.DestroyBuffer(srcBuf)

	// Horizontal pass output, vertical pass input.
	tmpBuf, err := hdev.CreateBuffer(&hal.BufferDescriptor{
		Label: "blur_tmp", Size: pixSize,
		Usage: gputypes.BufferUsageStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("create intermediate buffer: %w", err)
	}
	defer hdev.DestroyBuffer(tmpBuf)

	dstBuf, err := hdev.CreateBuffer(&hal.BufferDescriptor{
		Label: "blur_dst", Size: pixSize,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc,
	})
	if err != nil {
		return nil, fmt.Errorf("create destination buffer: %w", err)
	}
	defer hdev.DestroyBuffer(dstBuf)

	stagingBuf, err := hdev.CreateBuffer(&hal.BufferDescriptor{
		Label: "blur_staging", Size: pixSize,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("create staging buffer: %w", err)
	}
	defer hdev.DestroyBuffer(stagingBuf)

	queue.WriteBuffer(srcBuf, 0, src.Pix)

	w, h := uint32(src.Width), uint32(src.Height)

	type pass struct {
		dir      uint32
		in, out  hal.Buffer
		params   hal.Buffer
		bindings hal.BindGroup
	}

	passes := []pass{
		{dir: 0, in: srcBuf, out: tmpBuf},
		{dir: 1, in: tmpBuf, out: dstBuf},
	}

	for i := range passes {
		p := &passes[i]

		paramsBuf, err := hdev.CreateBuffer(&hal.BufferDescriptor{
			Label: "blur_params", Size: paramsSize,
			Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
		})
		if err != nil {
			return nil, fmt.Errorf("create params buffer: %w", err)
		}
		defer hdev.DestroyBuffer(paramsBuf)
		p.params = paramsBuf

		queue.WriteBuffer(paramsBuf, 0, packParams(w, h, uint32(radius), p.dir))

		bindGroup, err := hdev.CreateBindGroup(&hal.BindGroupDescriptor{
			Label: "blur_bind", Layout: d.bindLayout,
			Entries: []gputypes.BindGroupEntry{
				{Binding: 0, Resource: gputypes.BufferBinding{Buffer: paramsBuf.NativeHandle(), Offset: 0, Size: paramsSize}},
				{Binding: 1, Resource: gputypes.BufferBinding{Buffer: p.in.NativeHandle(), Offset: 0, Size: pixSize}},
				{Binding: 2, Resource: gputypes.BufferBinding{Buffer: p.out.NativeHandle(), Offset: 0, Size: pixSize}},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("create bind group: %w", err)
		}
		defer hdev.DestroyBindGroup(bindGroup)
		p.bindings = bindGroup
	}

	encoder, err := hdev.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "blur_encoder"})
	if err != nil {
		return nil, fmt.Errorf("create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("blur"); err != nil {
		return nil, fmt.Errorf("begin encoding: %w", err)
	}

	// Two passes in one encoder; the implicit storage barrier between them
	// orders the vertical pass after the horizontal one.
	for i := range passes {
		cp := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "blur_pass"})
		cp.SetPipeline(d.blurPipeline)
		cp.SetBindGroup(0, passes[i].bindings, nil)
		cp.Dispatch(groups(src.Width), groups(src.Height), 1)
		cp.End()
	}

	encoder.CopyBufferToBuffer(dstBuf, stagingBuf, []hal.BufferCopy{
		{SrcOffset: 0, DstOffset: 0, Size: pixSize},
	})

	out := NewImage(src.Width, src.Height)
	if err := d.submitAndRead(hdev, queue, encoder, stagingBuf, out.Pix); err != nil {
		return nil, err
	}

	return out, nil
}

func (d *Dispatcher) submitAndRead(hdev hal.Device, queue hal.Queue, encoder hal.CommandEncoder, staging hal.Buffer, dst []byte) error {
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("end encoding: %w", err)
	}
	defer hdev.FreeCommandBuffer(cmdBuf)

	fence, err := hdev.CreateFence()
	if err != nil {
		return fmt.Errorf("create fence: %w", err)
	}
	defer hdev.DestroyFence(fence)

	if err := queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return fmt.Errorf("submit: %w", err)
	}

	ok, err := hdev.Wait(fence, 1, gpuTimeout)
	if err != nil {
		return fmt.Errorf("wait for fence: %w", err)
	}
	if !ok {
		return fmt.Errorf("kernel: gpu timed out after %s", gpuTimeout)
	}

	if err := queue.ReadBuffer(staging, 0, dst); err != nil {
		return fmt.Errorf("readback: %w", err)
	}

	return nil
}

func groups(n int) uint32 {
	return uint32((n + workgroupDim - 1) / workgroupDim)
}
