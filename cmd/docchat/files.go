package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/docchat-sdk-go/docchat"
	"github.com/vovakirdan/docchat-sdk-go/docchat/rest"
)

func filesCmd(config configFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files",
		Short: "Manage documents in the document store",
	}
	cmd.AddCommand(filesListCmd(config), filesUploadCmd(config), filesDeleteCmd(config))
	return cmd
}

func filesListCmd(config configFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List uploaded documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newRESTClient(config)
			if err != nil {
				return err
			}
			files, err := client.ListFiles(cmd.Context())
			if err != nil {
				docchat.NewConsoleNotifier(cmd.ErrOrStderr()).Error("Failed to fetch files", err.Error())
				return err
			}
			return printFiles(cmd.OutOrStdout(), files)
		},
	}
}

func filesUploadCmd(config configFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "upload FILE...",
		Short: "Upload documents (" + extensionList() + ")",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newRESTClient(config)
			if err != nil {
				return err
			}
			notify := docchat.NewConsoleNotifier(cmd.ErrOrStderr())

			var failed int
			for _, path := range args {
				resp, err := client.UploadFile(cmd.Context(), path)
				if err != nil {
					failed++
					notify.Error("Upload failed", fmt.Sprintf("%s: %v", path, err))
					continue
				}
				notify.Success("Uploaded", resp.Filename)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d uploads failed", failed, len(args))
			}
			return nil
		},
	}
}

func filesDeleteCmd(config configFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete an uploaded document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			notify := docchat.NewConsoleNotifier(cmd.ErrOrStderr())
			client, err := newRESTClient(config)
			if err != nil {
				return err
			}
			resp, err := client.Delete(cmd.Context(), args[0])
			if err != nil {
				notify.Error("Delete failed", err.Error())
				return err
			}
			notify.Success("Deleted", resp.Message)
			return nil
		},
	}
}

func newRESTClient(config configFunc) (*rest.Client, error) {
	cfg, err := config()
	if err != nil {
		return nil, err
	}
	return rest.NewClient(cfg.APIURL), nil
}

func printFiles(w io.Writer, files []rest.FileInfo) error {
	if len(files) == 0 {
		_, err := fmt.Fprintln(w, "No documents uploaded yet.")
		return err
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("NAME", "SIZE", "UPLOADED")
	for _, f := range files {
		t.Row(f.Filename, rest.FormatSize(f.Size), f.UploadedAt.Local().Format("2006-01-02 15:04"))
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func extensionList() string {
	exts := make([]string, len(rest.AllowedExtensions))
	for i, ext := range rest.AllowedExtensions {
		exts[i] = "." + ext
	}
	return strings.Join(exts, ", ")
}
