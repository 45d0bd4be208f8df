package demo

import (
	"bufio"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/large-farva/rotortrack/internal/rotor"
)

func TestRotatorSlew(t *testing.T) {
	clock := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	r := NewRotator(rotor.Full360, 90, 2)
	r.now = func() time.Time { return clock }
	r.last = clock

	if code := r.SetTarget(10, 3); code != rprtOK {
		t.Fatalf("SetTarget = %d", code)
	}
	clock = clock.Add(time.Second)
	if az, el := r.Position(); az != 2 || el != 2 {
		t.Errorf("after 1s = (%v, %v), want (2, 2)", az, el)
	}
	clock = clock.Add(10 * time.Second)
	if az, el := r.Position(); az != 10 || el != 3 {
		t.Errorf("after 11s = (%v, %v), want (10, 3)", az, el)
	}

	if code := r.SetTarget(400, 0); code != rprtInvalid {
		t.Errorf("az 400 accepted on 360 rotor")
	}
	if code := r.SetTarget(0, 95); code != rprtInvalid {
		t.Errorf("el 95 accepted with max el 90")
	}
}

func TestServeConn(t *testing.T) {
	cli, srv := net.Pipe()
	defer cli.Close()
	s := NewServer(NewRotator(rotor.Full360, 180, 0), slog.New(slog.NewTextHandler(io.Discard, nil)))
	done := make(chan struct{})
	go func() {
		s.ServeConn(srv)
		close(done)
	}()

	rd := bufio.NewReader(cli)
	exchange := func(cmd string, lines int) []string {
		t.Helper()
		if _, err := cli.Write([]byte(cmd)); err != nil {
			t.Fatal(err)
		}
		var out []string
		for range lines {
			line, err := rd.ReadString('\n')
			if err != nil {
				t.Fatal(err)
			}
			out = append(out, line)
		}
		return out
	}

	tests := []struct {
		cmd  string
		want []string
	}{
		{"P 120.5 30\n", []string{"RPRT 0\n"}},
		{"p\n", []string{"120.500000\n", "30.000000\n"}},
		{`+\get_pos` + "\n", []string{"get_pos:\n", "Azimuth: 120.500000\n", "Elevation: 30.000000\n", "RPRT 0\n"}},
		{"P 1\n", []string{"RPRT -22\n"}},
		{"Z\n", []string{"RPRT -1\n"}},
		{"S\n", []string{"RPRT 0\n"}},
	}
	for _, test := range tests {
		got := exchange(test.cmd, len(test.want))
		if diff := cmp.Diff(got, test.want); diff != "" {
			t.Errorf("%q got(-)/want(+)\n%s", test.cmd, diff)
		}
	}

	cli.Write([]byte("q\n"))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("server did not close on quit")
	}
}
