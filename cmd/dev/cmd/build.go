package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/gophertribe/devtool/build"
)

const binary = "dist/envmon"

func BuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the envmon binary",
		Long: `Build dist/envmon. A native build runs go build directly; any other
os/arch pair is built inside a Docker image with cgo enabled, as the USB
bridge needs hidapi.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			goos, _ := cmd.Flags().GetString("os")
			arch, _ := cmd.Flags().GetString("arch")
			version, _ := cmd.Flags().GetString("version")
			if goos == runtime.GOOS && arch == runtime.GOARCH {
				return goBuild(version, goos, arch)
			}
			noCache, err := cmd.Flags().GetBool("no-cache")
			if err != nil {
				return fmt.Errorf("could not get no-cache flag: %w", err)
			}
			// the image runs this tool natively for the target platform
			return build.Docker(cmd.Context(), fmt.Sprintf("./dev-%s-%s", goos, arch), []string{"build", "--version", version}, build.DockerBuildOpts{
				NoCache: noCache,
				Image:   "gophertribe/gobuild:1.25-bookworm",
			})
		},
	}
	cmd.Flags().Bool("no-cache", false, "do not use cache when building the app")
	cmd.Flags().String("version", "latest", "version injected into the binary")
	cmd.Flags().String("os", runtime.GOOS, "os to build for")
	cmd.Flags().String("arch", runtime.GOARCH, "arch to build for")
	return cmd
}

func goBuild(version, goos, arch string) error {
	slog.Info("building", "output", binary, "os", goos, "arch", arch, "version", version)
	return build.GoBuild(binary, "./cmd/envmon", build.GoBuildOpts{
		Version:       version,
		InjectVersion: true,
		ConfigPackage: "main",
		EnableCgo:     true,
		Arch:          arch,
		OS:            goos,
	})
}

// SimCmd builds the binary and runs it against the simulated bus.
func SimCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Build and run the monitor on the simulated bus",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := goBuild("dev", runtime.GOOS, runtime.GOARCH); err != nil {
				return err
			}
			period, _ := cmd.Flags().GetString("period")
			return runBinary(cmd.Context(), "run", "--adapter", "sim", "--period", period, "--yes")
		},
	}
	cmd.Flags().String("period", "1s", "sampling period selector")
	return cmd
}

func runBinary(ctx context.Context, args ...string) error {
	slog.Debug("running", "binary", binary, "args", args)
	c := exec.CommandContext(ctx, "./"+binary, args...)
	c.Stdin = os.Stdin
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	if err := c.Run(); err != nil {
		return fmt.Errorf("envmon exited: %w", err)
	}
	return nil
}
