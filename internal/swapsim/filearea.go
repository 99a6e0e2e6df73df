package swapsim

import (
	"hash/crc32"
	"os"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"swapcore/internal/flash"
)

// ErrDeviceLocked is returned when a simulated device file is already
// locked by another swapctl process, the same role sidb's
// ErrWriteByOther plays for a second writer opening the same DB file.
var ErrDeviceLocked = errors.New("swapsim: device file locked by another process")

// ErrSectorTorn is returned by Read when a sector's crc32 no longer
// matches the value recorded at the last Write or Erase this device
// performed, meaning the bytes on disk changed outside this process's
// own write path: a hand-edited fixture file, a second unlocked
// writer, or a genuinely torn write to the backing file. It is a
// coarse, unkeyed check distinct from the trailer's own keyed Hasher
// integrity field, which only ever covers trailer pages it wrote
// itself.
var ErrSectorTorn = errors.New("swapsim: sector crc32 mismatch, torn or foreign write")

// Device is one flock-guarded file backing both of a simulated swap
// device's slots, so state survives across separate process
// invocations (request, then status, then simulate against the same
// file) instead of only within one in-memory Driver. The lock is held
// for the lifetime of the Device, the way sidb holds its data file
// lock for the lifetime of a DB: a second Device opened against the
// same path fails fast with ErrDeviceLocked rather than corrupting it.
type Device struct {
	file      *os.File
	sectorCRC map[uint32]uint32
}

// OpenDevice locks path exclusively, growing it to size bytes if it is
// shorter; the added bytes are filled with 0xff so they read as
// erased. The caller must call Close when done with every Area
// derived from it.
func OpenDevice(path string, size int64) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "swapsim: open device file")
	}
	if err := flockFile(f); err != nil {
		f.Close()
		return nil, err
	}
	if info, err := f.Stat(); err == nil && info.Size() < size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, errors.Wrap(err, "swapsim: grow device file")
		}
		fill := make([]byte, size-info.Size())
		for i := range fill {
			fill[i] = 0xff
		}
		if _, err := f.WriteAt(fill, info.Size()); err != nil {
			f.Close()
			return nil, errors.Wrap(err, "swapsim: erase grown device region")
		}
	}
	return &Device{file: f, sectorCRC: make(map[uint32]uint32)}, nil
}

// Close releases the lock and the underlying file descriptor.
func (d *Device) Close() error {
	_ = funlockFile(d.file)
	return d.file.Close()
}

// Area returns a flash.Area view over [base, base+capacity) of d.
// Multiple Areas from the same Device share its single lock and crc
// table, keyed by absolute file offset so two slots' sectors never
// collide in it.
func (d *Device) Area(base, capacity, sectorSize uint32) *FileArea {
	return &FileArea{device: d, base: base, capacity: capacity, sectorSize: sectorSize}
}

// FileArea is a flash.Area backed by one region of a Device's file
// instead of an in-memory byte slice.
type FileArea struct {
	device     *Device
	base       uint32
	capacity   uint32
	sectorSize uint32
}

// OpenFileArea is a convenience constructor for a Device holding a
// single Area, for callers that only ever need one slot per file.
func OpenFileArea(path string, base, capacity, sectorSize uint32) (*FileArea, error) {
	d, err := OpenDevice(path, int64(base+capacity))
	if err != nil {
		return nil, err
	}
	return d.Area(base, capacity, sectorSize), nil
}

// Close closes the underlying Device. Only call this on a FileArea
// that owns its Device exclusively (i.e. came from OpenFileArea, not
// from Device.Area on a Device shared with another Area).
func (a *FileArea) Close() error {
	return a.device.Close()
}

func (a *FileArea) sectorAllErased(off, length uint32) (bool, error) {
	buf := make([]byte, length)
	if _, err := a.device.file.ReadAt(buf, int64(a.base+off)); err != nil {
		return false, errors.Wrap(err, "swapsim: read sector for state check")
	}
	for _, b := range buf {
		if b != 0xff {
			return false, nil
		}
	}
	return true, nil
}

func (a *FileArea) sectorStart(off uint32) uint32 { return off - (off % a.sectorSize) }

func (a *FileArea) checkSectorCRC(sector uint32) error {
	key := a.base + sector
	want, tracked := a.device.sectorCRC[key]
	if !tracked {
		return nil
	}
	buf := make([]byte, a.sectorSize)
	if _, err := a.device.file.ReadAt(buf, int64(key)); err != nil {
		return errors.Wrap(err, "swapsim: read sector for crc check")
	}
	if crc32.ChecksumIEEE(buf) != want {
		return ErrSectorTorn
	}
	return nil
}

func (a *FileArea) recordSectorCRC(sector uint32) error {
	key := a.base + sector
	buf := make([]byte, a.sectorSize)
	if _, err := a.device.file.ReadAt(buf, int64(key)); err != nil {
		return errors.Wrap(err, "swapsim: read sector for crc update")
	}
	a.device.sectorCRC[key] = crc32.ChecksumIEEE(buf)
	return nil
}

func (a *FileArea) Read(off uint32, buf []byte) error {
	sector := a.sectorStart(off)
	erased, err := a.sectorAllErased(sector, a.sectorSize)
	if err != nil {
		return err
	}
	if erased {
		return flash.ErrUnwritten
	}
	if err := a.checkSectorCRC(sector); err != nil {
		return err
	}
	_, err = a.device.file.ReadAt(buf, int64(a.base+off))
	return errors.Wrap(err, "swapsim: read device file")
}

func (a *FileArea) Erase(off, length uint32) error {
	buf := make([]byte, length)
	for i := range buf {
		buf[i] = 0xff
	}
	if _, err := a.device.file.WriteAt(buf, int64(a.base+off)); err != nil {
		return errors.Wrap(err, "swapsim: erase device file region")
	}
	return a.recordSectorCRC(a.sectorStart(off))
}

func (a *FileArea) Write(off uint32, buf []byte) error {
	if _, err := a.device.file.WriteAt(buf, int64(a.base+off)); err != nil {
		return errors.Wrap(err, "swapsim: write device file region")
	}
	return a.recordSectorCRC(a.sectorStart(off))
}

func (a *FileArea) GetState(off uint32) (flash.State, error) {
	erased, err := a.sectorAllErased(a.sectorStart(off), a.sectorSize)
	if err != nil {
		return flash.StateUnknown, err
	}
	if erased {
		return flash.StateErased, nil
	}
	return flash.StateWritten, nil
}

func (a *FileArea) Capacity() uint32   { return a.capacity }
func (a *FileArea) SectorSize() uint32 { return a.sectorSize }

// flockFile acquires a non-blocking exclusive advisory lock, the way
// sidb's flock guards its data file against a second writer.
func flockFile(f *os.File) error {
	err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err == nil {
		return nil
	}
	if errno, ok := err.(syscall.Errno); ok && (errno == syscall.EWOULDBLOCK || errno == syscall.EAGAIN) {
		return ErrDeviceLocked
	}
	return errors.Wrap(err, "swapsim: flock failed")
}

// funlockFile releases the advisory lock.
func funlockFile(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}

// waitFlockFile retries flockFile until it succeeds or timeout
// elapses, for a caller willing to wait out a short-lived holder
// instead of failing immediately.
func waitFlockFile(f *os.File, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		err := flockFile(f)
		if !errors.Is(err, ErrDeviceLocked) {
			return err
		}
		if timeout > 0 && time.Now().After(deadline) {
			return errors.New("swapsim: timed out waiting for device file lock")
		}
		time.Sleep(50 * time.Millisecond)
	}
}
