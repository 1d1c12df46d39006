// Package upload moves host data into device-local buffers through a
// short-lived staging buffer.
package upload

import (
	"bytes"
	"encoding/binary"

	"github.com/cockroachdb/errors"
	units "github.com/docker/go-units"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/frame-lifecycle/gpu"
)

type Uploader struct {
	alloc  gpu.Allocator
	pool   gpu.CommandPool
	queue  gpu.Queue
	sync   gpu.SyncFactory
	order  binary.ByteOrder
	logger *slog.Logger
}

// New builds an uploader. order is the byte order UploadValue encodes with and
// should be the device's native order.
func New(alloc gpu.Allocator, pool gpu.CommandPool, queue gpu.Queue, sync gpu.SyncFactory, order binary.ByteOrder, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}

	return &Uploader{
		alloc:  alloc,
		pool:   pool,
		queue:  queue,
		sync:   sync,
		order:  order,
		logger: logger,
	}
}

// Upload copies data into a new device-local buffer created with usage plus
// transfer destination. It blocks until the copy has completed on the GPU.
func (u *Uploader) Upload(data []byte, usage gpu.BufferUsage) (gpu.Buffer, error) {
	size := len(data)
	if size == 0 {
		return nil, errors.New("upload: no data")
	}

	human := units.BytesSize(float64(size))

	staging, err := u.alloc.CreateBuffer(size, gpu.BufferUsageTransferSrc, gpu.MemoryPropertyHostVisible|gpu.MemoryPropertyHostCoherent)
	if err != nil {
		return nil, errors.Wrapf(err, "upload: create %s staging buffer", human)
	}
	defer staging.Destroy()

	dst, err := u.alloc.CreateBuffer(size, usage|gpu.BufferUsageTransferDst, gpu.MemoryPropertyDeviceLocal)
	if err != nil {
		return nil, errors.Wrapf(err, "upload: create %s destination buffer", human)
	}

	err = gpu.WithMapped(staging, func(mem []byte) error {
		copy(mem, data)
		return nil
	})
	if err == nil {
		err = u.copyBuffer(staging, dst, size)
	}
	if err != nil {
		dst.Destroy()
		return nil, errors.Wrapf(err, "upload %s", human)
	}

	u.logger.Debug("uploaded buffer", "bytes", size, "size", human)
	return dst, nil
}

// UploadValue encodes a fixed-size value, or slice of them, with
// encoding/binary and uploads the result.
func (u *Uploader) UploadValue(value any, usage gpu.BufferUsage) (gpu.Buffer, error) {
	data, err := Encode(u.order, value)
	if err != nil {
		return nil, err
	}
	return u.Upload(data, usage)
}

// Encode serializes value the way the GPU will read it.
func Encode(order binary.ByteOrder, value any) ([]byte, error) {
	buf := &bytes.Buffer{}
	err := binary.Write(buf, order, value)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %T", value)
	}
	return buf.Bytes(), nil
}

// Write encodes value into a host-visible buffer at offset, for per-frame
// data such as uniforms.
func Write(buf gpu.Buffer, order binary.ByteOrder, offset int, value any) error {
	data, err := Encode(order, value)
	if err != nil {
		return err
	}
	if offset < 0 {
		return errors.Newf("write at negative offset %d", offset)
	}
	if offset+len(data) > buf.Size() {
		return errors.Newf("write of %d bytes at offset %d overruns %d byte buffer", len(data), offset, buf.Size())
	}

	return gpu.WithMapped(buf, func(mem []byte) error {
		copy(mem[offset:], data)
		return nil
	})
}

func (u *Uploader) copyBuffer(src, dst gpu.Buffer, size int) error {
	buffers, err := u.pool.AllocateCommandBuffers(1)
	if err != nil {
		return errors.Wrap(err, "allocate transfer command buffer")
	}
	defer u.pool.FreeCommandBuffers(buffers)
	cmd := buffers[0]

	err = cmd.Begin(true)
	if err != nil {
		return err
	}

	err = cmd.CopyBuffer(src, dst, size)
	if err != nil {
		return err
	}

	err = cmd.End()
	if err != nil {
		return err
	}

	fence, err := u.sync.CreateFence(false)
	if err != nil {
		return errors.Wrap(err, "create transfer fence")
	}
	defer fence.Destroy()

	err = u.queue.Submit(fence, gpu.Submission{CommandBuffers: buffers})
	if err != nil {
		return errors.Wrap(err, "submit transfer")
	}

	err = fence.Wait()
	if err != nil {
		return errors.Wrap(err, "wait for transfer")
	}

	return nil
}
