package devices

import "testing"

func TestParseInfo(t *testing.T) {
	token := "Ver 6.60,12,30,450,192.168.1.201,10,8,2,2,10110"
	info, err := ParseInfo(token)
	if err != nil {
		t.Fatalf("parse info: %v", err)
	}
	if info.FirmwareVersion != "Ver 6.60" {
		t.Fatalf("unexpected firmware %q", info.FirmwareVersion)
	}
	if info.UserCount != 12 || info.FingerprintCount != 30 || info.AttendanceCount != 450 {
		t.Fatalf("unexpected counts %+v", info)
	}
	if info.IPAddress != "192.168.1.201" {
		t.Fatalf("unexpected ip %q", info.IPAddress)
	}
	if !info.Functions.Fingerprint || info.Functions.Face || !info.Functions.UserPhoto {
		t.Fatalf("unexpected functions %+v", info.Functions)
	}
	if !info.Functions.ComparisonPhoto || info.Functions.VisibleLightFace {
		t.Fatalf("unexpected optional functions %+v", info.Functions)
	}
}

func TestParseInfoDefaultsEmptyFunctionField(t *testing.T) {
	info, err := ParseInfo("fw,1,2,3,10.0.0.5,10,8,0,0,")
	if err != nil {
		t.Fatalf("parse info: %v", err)
	}
	if info.Functions.Raw != "000" {
		t.Fatalf("expected default 000, got %q", info.Functions.Raw)
	}
}

func TestParseInfoRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"fw,1,2,3",
		"fw,x,2,3,10.0.0.5,10,8,0,0,101",
		"fw,1,2,3,10.0.0.5,10,8,0,0,12",
		"fw,1,2,3,10.0.0.5,10,8,0,0,1021",
	}
	for _, token := range cases {
		if _, err := ParseInfo(token); err == nil {
			t.Fatalf("expected error for %q", token)
		}
	}
}

func TestDeviceAdoptsReportedIP(t *testing.T) {
	device := NewDevice("ABC123")
	if device.ConnectionMode() != ModePushOnly {
		t.Fatalf("expected push_only default, got %s", device.ConnectionMode())
	}
	if device.Port() != DefaultPort {
		t.Fatalf("expected default port, got %d", device.Port())
	}
	device.SetInfo(Info{IPAddress: "10.1.2.3"})
	if device.Addr() != "10.1.2.3" {
		t.Fatalf("expected addr adopted, got %q", device.Addr())
	}
}
