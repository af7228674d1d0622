package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ExecDevice drives the pointer and keyboard by shelling out to platform
// tools: xdotool on Linux, cliclick and screencapture on macOS. Keeping the
// dependency at the binary level avoids cgo and display-server bindings.
type ExecDevice struct{}

func NewExecDevice() (*ExecDevice, error) {
	switch runtime.GOOS {
	case "linux":
		if _, err := exec.LookPath("xdotool"); err != nil {
			return nil, fmt.Errorf("screen input on Linux requires xdotool (apt install xdotool)")
		}
	case "darwin":
		if _, err := exec.LookPath("cliclick"); err != nil {
			return nil, fmt.Errorf("screen input on macOS requires cliclick (brew install cliclick)")
		}
	default:
		return nil, fmt.Errorf("screen input is not supported on %s", runtime.GOOS)
	}
	return &ExecDevice{}, nil
}

func (d *ExecDevice) MoveTo(ctx context.Context, x, y int) error {
	switch runtime.GOOS {
	case "linux":
		return run(ctx, "xdotool", "mousemove", strconv.Itoa(x), strconv.Itoa(y))
	case "darwin":
		return run(ctx, "cliclick", fmt.Sprintf("m:%d,%d", x, y))
	}
	return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
}

func (d *ExecDevice) Click(ctx context.Context, x, y int) error {
	switch runtime.GOOS {
	case "linux":
		if err := run(ctx, "xdotool", "mousemove", strconv.Itoa(x), strconv.Itoa(y)); err != nil {
			return err
		}
		return run(ctx, "xdotool", "click", "1")
	case "darwin":
		return run(ctx, "cliclick", fmt.Sprintf("c:%d,%d", x, y))
	}
	return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
}

func (d *ExecDevice) TypeText(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	switch runtime.GOOS {
	case "linux":
		return run(ctx, "xdotool", "type", "--delay", "0", text)
	case "darwin":
		return run(ctx, "cliclick", "t:"+text)
	}
	return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
}

func (d *ExecDevice) Scroll(ctx context.Context, delta int, x, y *int) error {
	if delta == 0 {
		return nil
	}
	if x != nil && y != nil {
		if err := d.MoveTo(ctx, *x, *y); err != nil {
			return err
		}
	}

	clicks := delta
	if clicks < 0 {
		clicks = -clicks
	}
	switch runtime.GOOS {
	case "linux":
		// X11 wheel buttons: 4 scrolls up, 5 scrolls down.
		button := "4"
		if delta < 0 {
			button = "5"
		}
		for i := 0; i < clicks; i++ {
			if err := run(ctx, "xdotool", "click", button); err != nil {
				return err
			}
		}
		return nil
	case "darwin":
		// cliclick cannot synthesize wheel events; page keys are the
		// closest exec-able stand-in.
		key := "kp:page-up"
		if delta < 0 {
			key = "kp:page-down"
		}
		for i := 0; i < clicks; i++ {
			if err := run(ctx, "cliclick", key); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
}

func (d *ExecDevice) PointerPosition(ctx context.Context) (int, int, error) {
	switch runtime.GOOS {
	case "linux":
		out, err := output(ctx, "xdotool", "getmouselocation", "--shell")
		if err != nil {
			return 0, 0, err
		}
		var x, y int
		found := 0
		for _, line := range strings.Split(out, "\n") {
			parts := strings.SplitN(strings.TrimSpace(line), "=", 2)
			if len(parts) != 2 {
				continue
			}
			val, convErr := strconv.Atoi(strings.TrimSpace(parts[1]))
			if convErr != nil {
				continue
			}
			switch strings.ToUpper(strings.TrimSpace(parts[0])) {
			case "X":
				x = val
				found++
			case "Y":
				y = val
				found++
			}
		}
		if found < 2 {
			return 0, 0, fmt.Errorf("cannot parse pointer position from xdotool output")
		}
		return x, y, nil
	case "darwin":
		out, err := output(ctx, "cliclick", "p")
		if err != nil {
			return 0, 0, err
		}
		parts := strings.SplitN(strings.TrimSpace(out), ",", 2)
		if len(parts) != 2 {
			return 0, 0, fmt.Errorf("cannot parse pointer position from cliclick output: %q", out)
		}
		x, errX := strconv.Atoi(strings.TrimSpace(parts[0]))
		y, errY := strconv.Atoi(strings.TrimSpace(parts[1]))
		if errX != nil || errY != nil {
			return 0, 0, fmt.Errorf("cannot parse pointer position from cliclick output: %q", out)
		}
		return x, y, nil
	}
	return 0, 0, fmt.Errorf("unsupported platform: %s", runtime.GOOS)
}

func (d *ExecDevice) CaptureScreen(ctx context.Context) ([]byte, error) {
	return d.capture(ctx, nil)
}

func (d *ExecDevice) CaptureRegion(ctx context.Context, x, y, width, height int) ([]byte, error) {
	region := []int{x, y, width, height}
	return d.capture(ctx, region)
}

func (d *ExecDevice) capture(ctx context.Context, region []int) ([]byte, error) {
	tmp := filepath.Join(os.TempDir(), fmt.Sprintf("screenbridge_%s.png", uuid.NewString()[:8]))
	defer os.Remove(tmp)

	switch runtime.GOOS {
	case "darwin":
		args := []string{"-x"}
		if len(region) == 4 {
			args = append(args, "-R", fmt.Sprintf("%d,%d,%d,%d", region[0], region[1], region[2], region[3]))
		}
		args = append(args, tmp)
		if err := run(ctx, "screencapture", args...); err != nil {
			return nil, err
		}
	case "linux":
		switch {
		case lookPathOK("scrot"):
			var args []string
			if len(region) == 4 {
				args = append(args, "-a", fmt.Sprintf("%d,%d,%d,%d", region[0], region[1], region[2], region[3]))
			}
			args = append(args, tmp)
			if err := run(ctx, "scrot", args...); err != nil {
				return nil, err
			}
		case len(region) == 4:
			return nil, fmt.Errorf("region capture on Linux requires scrot (apt install scrot)")
		case lookPathOK("gnome-screenshot"):
			if err := run(ctx, "gnome-screenshot", "-f", tmp); err != nil {
				return nil, err
			}
		case lookPathOK("import"):
			if err := run(ctx, "import", "-window", "root", tmp); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("screen capture requires scrot, gnome-screenshot, or imagemagick")
		}
	default:
		return nil, fmt.Errorf("screen capture is not supported on %s", runtime.GOOS)
	}

	return os.ReadFile(tmp)
}

func run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func output(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

func lookPathOK(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
