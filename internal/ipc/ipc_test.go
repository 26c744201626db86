package ipc

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func TestMessageEncode(t *testing.T) {
	data := Text(VerbAppName, "browser").Encode()

	if len(data) != HeaderSize+7 {
		t.Errorf("expected size %d, got %d", HeaderSize+7, len(data))
	}
	if data[0] != 0x06 || data[1] != 0x00 {
		t.Errorf("expected verb 0x0006, got %02x%02x", data[1], data[0])
	}
	if data[2] != 7 || data[3] != 0 || data[4] != 0 || data[5] != 0 {
		t.Errorf("expected length 7, got % x", data[2:6])
	}
	if !bytes.Equal(data[HeaderSize:], []byte("browser")) {
		t.Error("payload not at correct offset")
	}
}

func TestReadMessage(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(WinID(0x2a00001).Encode())
	buf.Write(Signal(VerbDetach).Encode())

	m, err := ReadMessage(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if id, err := m.WinID(); err != nil || id != 0x2a00001 {
		t.Errorf("WinID() = %x, %v", id, err)
	}
	m, err = ReadMessage(&buf)
	if err != nil || m.Verb != VerbDetach || len(m.Payload) != 0 {
		t.Errorf("ReadMessage() = %+v, %v", m, err)
	}
	if _, err := ReadMessage(&buf); err == nil {
		t.Error("expected an error at end of stream")
	}
}

func TestReadMessageErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"unknown verb", Message{Verb: 0x0099, Payload: []byte("x")}.Encode(), ErrUnknownVerb},
		{"too large", []byte{0x03, 0x00, 0xff, 0xff, 0xff, 0x7f}, ErrPayloadTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadMessage(bytes.NewReader(tt.data)); !errors.Is(err, tt.want) {
				t.Errorf("ReadMessage() error = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := Text(VerbMaterial, "oak").WinID(); !errors.Is(err, ErrBadPayload) {
		t.Errorf("WinID() on MATERIAL error = %v", err)
	}
}

func TestVerbString(t *testing.T) {
	if VerbImageLight.String() != "IMAGELIGHT" || Verb(0x42).String() != "Verb(0x0042)" {
		t.Errorf("String() = %s, %s", VerbImageLight, Verb(0x42))
	}
}

func TestProcess(t *testing.T) {
	a, b := net.Pipe()
	host := NewConn(a, nil)
	app := NewConn(b, nil)
	defer app.Close()

	var (
		winID     uint64
		materials []string
	)
	host.Handle(VerbWinID, func(m Message) error {
		id, err := m.WinID()
		winID = id
		return err
	})
	host.Handle(VerbMaterial, func(m Message) error {
		materials = append(materials, m.Text())
		return nil
	})
	host.Handle(VerbImageLight, func(Message) error { return errors.New("no such image") })

	done := make(chan error, 1)
	go func() { done <- host.Process(context.Background()) }()

	for _, m := range []Message{
		Text(VerbAppName, "Material browser"),
		WinID(0x2a00001),
		{Verb: 0x0099, Payload: []byte("junk")},
		Text(VerbImageLight, "sky.hdr"),
		Text(VerbMaterial, "Oak.FCMat"),
		Signal(VerbClose),
	} {
		if err := app.Send(m); err != nil {
			t.Fatalf("Send(%s) error = %v", m.Verb, err)
		}
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Process() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Process() did not return after CLOSE")
	}
	if host.Peer() != "Material browser" {
		t.Errorf("Peer() = %q", host.Peer())
	}
	if winID != 0x2a00001 || len(materials) != 1 || materials[0] != "Oak.FCMat" {
		t.Errorf("winID = %x, materials = %q", winID, materials)
	}
	if host.IsConnected() {
		t.Error("host still connected after CLOSE")
	}
	if err := host.Send(Signal(VerbRelease)); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() after close error = %v", err)
	}
}

func TestProcessCancel(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	host := NewConn(a, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- host.Process(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Process() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Process() ignored cancellation")
	}
}

func TestProcessPeerHangup(t *testing.T) {
	a, b := net.Pipe()
	host := NewConn(a, nil)
	done := make(chan error, 1)
	go func() { done <- host.Process(context.Background()) }()
	b.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Process() error = %v, want nil on hangup", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Process() did not notice the hangup")
	}
}

func TestDialAccept(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen: %v", err)
	}
	defer l.Close()

	accepted := make(chan *Conn, 1)
	go func() {
		c, err := Accept(l, nil)
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	app, err := Dial(context.Background(), "tcp", l.Addr().String(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer app.Close()
	host := <-accepted
	if host == nil {
		t.Fatal("Accept() failed")
	}
	defer host.Close()

	if err := app.Send(Text(VerbAppName, "help")); err != nil {
		t.Fatal(err)
	}
	m, err := ReadMessage(host.conn)
	if err != nil || m.Verb != VerbAppName || m.Text() != "help" {
		t.Errorf("ReadMessage() = %+v, %v", m, err)
	}
}
