package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"muster/internal/domain"
	"muster/internal/errs"
	"muster/internal/fleet"
)

var (
	logsFollow bool
	logsTail   int
	logsHead   int
)

func newLogsCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "logs TARGET [FILE]",
		Short: "List or print the log files recorded under an agent's host",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runLogs,
	}
	c.Flags().BoolVar(&logsFollow, "follow", false, "keep printing new lines appended to FILE")
	c.Flags().IntVar(&logsTail, "tail", 0, "print only the last N lines of FILE")
	c.Flags().IntVar(&logsHead, "head", 0, "print only the first N lines of FILE")
	return c
}

func init() {
	rootCmd.AddCommand(newLogsCmd())
}

func runLogs(cmd *cobra.Command, args []string) error {
	target := args[0]

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	listed, err := a.pipeline.ListAgents(cmd.Context(), a.group, fleet.ListOptions{ErrorBehavior: domain.ErrorBehaviorContinue})
	if err != nil {
		return err
	}

	var hostId domain.HostId
	found := false
	for _, h := range listed.Hosts {
		if string(h.Host.Name) == target {
			hostId, found = h.Host.Id, true
			break
		}
		for _, ag := range h.Agents {
			if string(ag.Name) == target {
				hostId, found = h.Host.Id, true
				break
			}
		}
		if found {
			break
		}
	}
	if !found {
		return &errs.UserInputError{Message: fmt.Sprintf("no host or agent named %q found", target), Hint: "run `mngr list` to see what's available"}
	}

	logsDir := filepath.Join(a.root.HostDir(hostId), "logs")

	if len(args) == 1 {
		infos, err := listLogFiles(logsDir)
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Println("no log files recorded")
			return nil
		}
		for _, info := range infos {
			fmt.Printf("%-40s %8d bytes  %s\n", info.Path, info.SizeBytes, info.ModTime.Format(time.RFC3339))
		}
		return nil
	}

	path := filepath.Join(logsDir, args[1])
	return printLogFile(path, logsTail, logsHead, logsFollow)
}

func listLogFiles(dir string) ([]domain.LogFileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]domain.LogFileInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, domain.LogFileInfo{Path: e.Name(), SizeBytes: info.Size(), ModTime: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func printLogFile(path string, tail, head int, follow bool) error {
	lines, err := readLines(path)
	if err != nil {
		return err
	}
	switch {
	case head > 0 && head < len(lines):
		lines = lines[:head]
	case tail > 0 && tail < len(lines):
		lines = lines[len(lines)-tail:]
	}
	for _, l := range lines {
		fmt.Println(l)
	}

	if !follow {
		return nil
	}
	return followFile(path)
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		out = append(out, scanner.Text())
	}
	return out, scanner.Err()
}

// followFile polls path for growth, the portable substitute for inotify that
// works the same way across every backend's log directory, local or mounted
// over SSH.
func followFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			fmt.Print(line)
		}
		if err != nil {
			time.Sleep(500 * time.Millisecond)
		}
	}
}
