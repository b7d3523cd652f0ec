package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/blackcoderx/loadgen/internal/demo"
)

func newDemoCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Start the mock HTTP backend used for trying loadgen out",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("demo backend listening on %s (/ping, /slow, /oauth/token, /secure/profile, /users/{id})\n", addr)
			return http.ListenAndServe(addr, demo.NewServer())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8089", "address to listen on")
	return cmd
}
