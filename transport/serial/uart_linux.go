//go:build linux

package serial

import (
	"os"

	"github.com/juju/errors"
	"golang.org/x/sys/unix"
)

var baudFlags = map[int]uint32{
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
}

type fileUart struct {
	f *os.File
}

func NewFileUart() Uarter { return &fileUart{} }

func (u *fileUart) Open(path string, baud int) error {
	if u.f != nil {
		u.f.Close()
		u.f = nil
	}
	if baud == 0 {
		baud = 115200
	}
	bflag, ok := baudFlags[baud]
	if !ok {
		return errors.NotValidf("baud=%d", baud)
	}

	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NOCTTY, 0o600)
	if err != nil {
		return errors.Trace(err)
	}
	fd := int(f.Fd())

	tio, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		f.Close()
		return errors.Annotatef(err, "tcgetattr %s", path)
	}
	// raw 8N1, no flow control; blocking read returns after >=1 byte
	tio.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF
	tio.Oflag &^= unix.OPOST
	tio.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	tio.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CRTSCTS | unix.CBAUD
	tio.Cflag |= unix.CS8 | unix.CLOCAL | unix.CREAD | bflag
	tio.Ispeed = bflag
	tio.Ospeed = bflag
	tio.Cc[unix.VMIN] = 1
	tio.Cc[unix.VTIME] = 0
	if err = unix.IoctlSetTermios(fd, unix.TCSETS, tio); err != nil {
		f.Close()
		return errors.Annotatef(err, "tcsetattr %s", path)
	}
	if err = unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIOFLUSH); err != nil {
		f.Close()
		return errors.Annotatef(err, "tcflush %s", path)
	}

	u.f = f
	return nil
}

func (u *fileUart) Read(p []byte) (int, error)  { return u.f.Read(p) }
func (u *fileUart) Write(p []byte) (int, error) { return u.f.Write(p) }

func (u *fileUart) Close() error {
	if u.f == nil {
		return nil
	}
	err := u.f.Close()
	u.f = nil
	return err
}
