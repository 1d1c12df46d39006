package swapchain_test

import (
	"bytes"
	"strings"
	"testing"

	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/frame-lifecycle/swapchain"
)

func TestChooseImageCount(t *testing.T) {
	tests := []struct {
		min, max int
		want     int
	}{
		{min: 2, max: 0, want: 3},
		{min: 2, max: 8, want: 3},
		{min: 3, max: 3, want: 3},
		{min: 1, max: 2, want: 2},
	}

	for _, tt := range tests {
		got := swapchain.ChooseImageCount(swapchain.Capabilities{MinImageCount: tt.min, MaxImageCount: tt.max})
		if got != tt.want {
			t.Errorf("ChooseImageCount(min=%d, max=%d): expected %d, got %d", tt.min, tt.max, tt.want, got)
		}
	}
}

func TestChooseSurfaceFormatFindsPreferredAnywhere(t *testing.T) {
	preferred := swapchain.DefaultFormat
	others := []swapchain.SurfaceFormat{
		{Format: swapchain.FormatB8G8R8A8UnsignedNormalized, ColorSpace: swapchain.ColorSpaceSRGBNonlinear},
		{Format: swapchain.FormatR8G8B8A8SRGB, ColorSpace: swapchain.ColorSpaceSRGBNonlinear},
		{Format: swapchain.FormatB8G8R8A8SRGB, ColorSpace: 1000104001},
	}

	for pos := 0; pos <= len(others); pos++ {
		list := append([]swapchain.SurfaceFormat{}, others[:pos]...)
		list = append(list, preferred)
		list = append(list, others[pos:]...)

		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))

		got, err := swapchain.ChooseSurfaceFormat(list, preferred, logger)
		if err != nil {
			t.Fatalf("position %d: unexpected error: %v", pos, err)
		}
		if got != preferred {
			t.Errorf("position %d: expected %v, got %v", pos, preferred, got)
		}
		if buf.Len() != 0 {
			t.Errorf("position %d: unexpected fallback notice %q", pos, buf.String())
		}
	}
}

func TestChooseSurfaceFormatFallsBackToFirst(t *testing.T) {
	list := []swapchain.SurfaceFormat{
		{Format: swapchain.FormatR8G8B8A8SRGB, ColorSpace: swapchain.ColorSpaceSRGBNonlinear},
		{Format: swapchain.FormatB8G8R8A8UnsignedNormalized, ColorSpace: swapchain.ColorSpaceSRGBNonlinear},
	}

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	got, err := swapchain.ChooseSurfaceFormat(list, swapchain.DefaultFormat, logger)
	if err != nil {
		t.Fatal(err)
	}
	if got != list[0] {
		t.Errorf("expected %v, got %v", list[0], got)
	}
	if !strings.Contains(buf.String(), "falling back") {
		t.Errorf("expected a fallback notice, log was %q", buf.String())
	}
}

func TestChooseSurfaceFormatEmpty(t *testing.T) {
	_, err := swapchain.ChooseSurfaceFormat(nil, swapchain.DefaultFormat, nil)
	if err == nil {
		t.Error("expected an error for an empty format list")
	}
}

func TestChoosePresentMode(t *testing.T) {
	tests := []struct {
		available []swapchain.PresentMode
		want      swapchain.PresentMode
	}{
		{[]swapchain.PresentMode{swapchain.PresentModeMailbox, swapchain.PresentModeImmediate, swapchain.PresentModeFIFO}, swapchain.PresentModeMailbox},
		{[]swapchain.PresentMode{swapchain.PresentModeFIFO, swapchain.PresentModeImmediate, swapchain.PresentModeMailbox}, swapchain.PresentModeMailbox},
		{[]swapchain.PresentMode{swapchain.PresentModeImmediate, swapchain.PresentModeFIFO}, swapchain.PresentModeImmediate},
		{[]swapchain.PresentMode{swapchain.PresentModeFIFO}, swapchain.PresentModeFIFO},
		{[]swapchain.PresentMode{swapchain.PresentModeFIFORelaxed, swapchain.PresentModeFIFO}, swapchain.PresentModeFIFO},
	}

	for _, tt := range tests {
		got := swapchain.ChoosePresentMode(tt.available)
		if got != tt.want {
			t.Errorf("ChoosePresentMode(%v): expected %s, got %s", tt.available, tt.want, got)
		}
	}
}

func TestChooseExtentUsesDefinedCurrentExtent(t *testing.T) {
	caps := swapchain.Capabilities{
		CurrentExtent: swapchain.Extent{Width: 1024, Height: 768},
		MinExtent:     swapchain.Extent{Width: 1, Height: 1},
		MaxExtent:     swapchain.Extent{Width: 4096, Height: 4096},
	}

	got := swapchain.ChooseExtent(caps, swapchain.Extent{Width: 800, Height: 600})
	if got != caps.CurrentExtent {
		t.Errorf("expected %v, got %v", caps.CurrentExtent, got)
	}
}

func TestChooseExtentClampsDesired(t *testing.T) {
	caps := swapchain.Capabilities{
		CurrentExtent: swapchain.Extent{Width: swapchain.UndefinedDimension, Height: swapchain.UndefinedDimension},
		MinExtent:     swapchain.Extent{Width: 100, Height: 100},
		MaxExtent:     swapchain.Extent{Width: 1920, Height: 1080},
	}

	tests := []struct {
		desired, want swapchain.Extent
	}{
		{swapchain.Extent{Width: 800, Height: 600}, swapchain.Extent{Width: 800, Height: 600}},
		{swapchain.Extent{Width: 50, Height: 5000}, swapchain.Extent{Width: 100, Height: 1080}},
		{swapchain.Extent{Width: 4000, Height: 10}, swapchain.Extent{Width: 1920, Height: 100}},
	}

	for _, tt := range tests {
		got := swapchain.ChooseExtent(caps, tt.desired)
		if got != tt.want {
			t.Errorf("ChooseExtent(%v): expected %v, got %v", tt.desired, tt.want, got)
		}
	}
}

func TestChooseSharingMode(t *testing.T) {
	mode, families := swapchain.ChooseSharingMode(0, 0)
	if mode != swapchain.SharingExclusive || families != nil {
		t.Errorf("same family: expected exclusive with no families, got %v %v", mode, families)
	}

	mode, families = swapchain.ChooseSharingMode(0, 2)
	if mode != swapchain.SharingConcurrent || len(families) != 2 || families[0] != 0 || families[1] != 2 {
		t.Errorf("distinct families: expected concurrent [0 2], got %v %v", mode, families)
	}
}
