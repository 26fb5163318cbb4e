package target

import (
	"testing"
)

func hk(path string) Target {
	return Target{Kind: KindHalfKay, Path: path, VID: 0x16C0, PID: 0x0478}
}

func ser(port string) Target {
	return Target{Kind: KindSerial, Path: port, VID: 0x16C0, PID: 0x0483}
}

func TestParseSelector(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantID  string
		wantIdx int
		byIndex bool
		wantErr bool
	}{
		{name: "explicit index", in: "index:2", wantIdx: 2, byIndex: true},
		{name: "bare digits", in: "1", wantIdx: 1, byIndex: true},
		{name: "serial id", in: "serial:COM6", wantID: "serial:COM6"},
		{name: "halfkay id", in: "halfkay:usb:001:004", wantID: "halfkay:usb:001:004"},
		{name: "bare port", in: "COM6", wantID: "serial:COM6"},
		{name: "bare tty", in: "/dev/ttyACM0", wantID: "serial:/dev/ttyACM0"},
		{name: "empty", in: "", wantErr: true},
		{name: "bad index", in: "index:x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, err := ParseSelector(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSelector(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if sel.byIndex != tt.byIndex {
				t.Errorf("byIndex = %v, want %v", sel.byIndex, tt.byIndex)
			}
			if sel.byIndex && sel.Index != tt.wantIdx {
				t.Errorf("Index = %d, want %d", sel.Index, tt.wantIdx)
			}
			if !sel.byIndex && sel.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", sel.ID, tt.wantID)
			}
		})
	}
}

func TestSelectorResolve(t *testing.T) {
	targets := []Target{hk("usb:001:004"), ser("COM6"), ser("COM7")}

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "by id", in: "serial:COM6", want: "serial:COM6"},
		{name: "by bare port", in: "COM7", want: "serial:COM7"},
		{name: "by index", in: "index:0", want: "halfkay:usb:001:004"},
		{name: "index out of range", in: "index:3", wantErr: true},
		{name: "no match", in: "serial:COM9", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, err := ParseSelector(tt.in)
			if err != nil {
				t.Fatalf("ParseSelector(%q) error = %v", tt.in, err)
			}
			got, err := sel.Resolve(targets)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Resolve() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got.ID() != tt.want {
				t.Errorf("Resolve() = %s, want %s", got.ID(), tt.want)
			}
		})
	}
}

func TestSortOrdersHalfKayFirst(t *testing.T) {
	targets := []Target{ser("COM7"), ser("COM6"), hk("usb:001:004")}
	Sort(targets)

	want := []string{"halfkay:usb:001:004", "serial:COM6", "serial:COM7"}
	for i, w := range want {
		if targets[i].ID() != w {
			t.Errorf("targets[%d] = %s, want %s", i, targets[i].ID(), w)
		}
	}
}

func TestTargetID(t *testing.T) {
	if got := ser("COM6").ID(); got != "serial:COM6" {
		t.Errorf("ID() = %q, want %q", got, "serial:COM6")
	}
	if got := hk("usb:001:004").ID(); got != "halfkay:usb:001:004" {
		t.Errorf("ID() = %q, want %q", got, "halfkay:usb:001:004")
	}
}
