// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// interop_info lists the registered backends, the devices of the selected backend and, for the cuda backend,
// the native handles behind them.
//
// With -check it also verifies, for every device, that a queue wrapping a native stream computes the same
// results as the backend's own queue.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/gomlx/interop/backends"
	"github.com/gomlx/interop/backends/cuda"
	_ "github.com/gomlx/interop/backends/default"
	cu "github.com/gomlx/interop/pkg/cuda"
	"github.com/janpfeifer/must"
	"github.com/muesli/termenv"
	"k8s.io/klog/v2"
)

var (
	flagBackend = flag.String("backend", "", fmt.Sprintf(
		"Backend configuration, formatted as \"<backend>:<config>\", e.g. \"cuda:sim\". "+
			"If empty, $%s is used, and then the first registered backend.", backends.ConfigEnvVar))
	flagNoColor = flag.Bool("no_color", false, "Disable colors in the output.")
	flagCheck   = flag.Bool("check", false, "Run the interoperability check on every device.")
	flagRepeat  = flag.Int("repeat", 10, "Number of kernels run per device by -check.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if len(flag.Args()) > 0 {
		klog.Errorf("interop_info takes no arguments, see 'interop_info -help'.")
		os.Exit(1)
	}
	output := termenv.NewOutput(os.Stdout)
	if *flagNoColor || output.Profile == termenv.Ascii {
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	var backend backends.Backend
	if *flagBackend != "" {
		backend = must.M1(backends.NewWithConfig(*flagBackend))
	} else {
		backend = must.M1(backends.New())
	}
	defer backend.Finalize()

	report(backend)
	if *flagCheck {
		if err := check(backend, *flagRepeat); err != nil {
			klog.Errorf("Interoperability check failed: %+v", err)
			os.Exit(1)
		}
		fmt.Println(titleStyle.Render("Check passed"))
	}
}

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == lgtable.HeaderRow {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

func report(backend backends.Backend) {
	fmt.Println(titleStyle.Render("Backends"))
	table := newPlainTable(true).Headers("Name", "Selected")
	for _, name := range backends.List() {
		selected := ""
		if name == backend.Name() {
			selected = "*"
		}
		table.Row(name, selected)
	}
	fmt.Println(table.Render())

	fmt.Println(titleStyle.Render(backend.Description()))
	table = newPlainTable(false)
	table.Row("capabilities", fmt.Sprintf("%v", backend.Capabilities().List()))
	fmt.Println(table.Render())

	devices := must.M1(backend.Devices())
	table = newPlainTable(true).Headers("#", "Device", "Description")
	for i, device := range devices {
		table.Row(fmt.Sprintf("%d", i), device.String(), must.M1(backend.DeviceDescription(device)))
	}
	fmt.Println(table.Render())

	if cudaBackend, ok := backend.(*cuda.Backend); ok {
		reportNative(cudaBackend, devices)
	}
}

// reportNative lists the native handles behind a context spanning all devices.
func reportNative(backend *cuda.Backend, devices []backends.Device) {
	fmt.Println(titleStyle.Render(fmt.Sprintf("Native handles (drivers: %q)", cu.Drivers())))
	ctx := must.M1(backend.NewContext(devices...))
	defer func() {
		if err := ctx.Release(); err != nil {
			klog.Warningf("Failed to release %s: %+v", ctx, err)
		}
	}()
	natives := must.M1(cuda.NativeContext(ctx))
	table := newPlainTable(true).Headers("Device", cu.Descriptor(cu.DeviceHandle).NativeName,
		cu.Descriptor(cu.ContextHandle).NativeName)
	for i, device := range ctx.Devices() {
		table.Row(device.String(), must.M1(cuda.NativeDevice(device)).String(), natives[i].String())
	}
	fmt.Println(table.Render())
}
