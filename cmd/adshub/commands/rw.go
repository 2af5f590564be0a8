package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/adshub/adshub-go/pkg/codec"
)

// valueFlags are the conversion flags of read and write.
type valueFlags struct {
	typeName     string
	factor       float64
	offset       float64
	precision    int
	stringLength int
}

func (f *valueFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.typeName, "type", "t", "REAL", "PLC data type")
	cmd.Flags().Float64Var(&f.factor, "factor", 1, "scaling factor")
	cmd.Flags().Float64Var(&f.offset, "offset", 0, "scaling offset")
	cmd.Flags().IntVar(&f.precision, "precision", -1, "decimal places after scaling (-1 keeps all)")
	cmd.Flags().IntVar(&f.stringLength, "string-length", 0, "STRING buffer size (0 uses the default)")
}

func (f *valueFlags) parse() (codec.DataType, []codec.Option, error) {
	t, err := codec.ParseDataType(f.typeName)
	if err != nil {
		return codec.TypeUnknown, nil, err
	}
	s := codec.Scaling{Factor: f.factor, Offset: f.offset}
	if f.precision >= 0 {
		s.Precision = codec.Places(f.precision)
	}
	if s.Factor == 0 {
		return codec.TypeUnknown, nil, fmt.Errorf("scaling factor must not be zero")
	}

	var opts []codec.Option
	if !s.IsIdentity() {
		opts = append(opts, codec.WithTransform(s))
	}
	if f.stringLength > 0 {
		opts = append(opts, codec.WithStringLength(f.stringLength))
	}
	return t, opts, nil
}

// readResult is the JSON form of a read.
type readResult struct {
	Address string `json:"address"`
	Type    string `json:"type"`
	Value   any    `json:"value"`
}

func newReadCommand(g *globals) *cobra.Command {
	var vf valueFlags

	cmd := &cobra.Command{
		Use:   "read <address>",
		Short: "Read one variable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			address := args[0]
			t, opts, err := vf.parse()
			if err != nil {
				return err
			}

			logger, err := g.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			s, err := g.openSession(logger, nil)
			if err != nil {
				return err
			}
			defer s.close()

			if err := define(s.transport, address, t); err != nil {
				return err
			}
			if err := s.hub.Connect(cmd.Context()); err != nil {
				return fmt.Errorf("connect: %w", err)
			}

			v, err := s.hub.Read(cmd.Context(), address, t, opts...)
			if err != nil {
				return err
			}
			return printValue(cmd.OutOrStdout(), g.jsonOutput, readResult{Address: address, Type: t.String(), Value: v})
		},
	}
	vf.register(cmd)
	return cmd
}

func newWriteCommand(g *globals) *cobra.Command {
	var vf valueFlags

	cmd := &cobra.Command{
		Use:   "write <address> <value>",
		Short: "Write one variable",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, value := args[0], args[1]
			t, opts, err := vf.parse()
			if err != nil {
				return err
			}

			logger, err := g.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			s, err := g.openSession(logger, nil)
			if err != nil {
				return err
			}
			defer s.close()

			if err := define(s.transport, address, t); err != nil {
				return err
			}
			if err := s.hub.Connect(cmd.Context()); err != nil {
				return fmt.Errorf("connect: %w", err)
			}

			if err := s.hub.Write(cmd.Context(), address, t, value, opts...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", address, value)
			return nil
		},
	}
	vf.register(cmd)
	return cmd
}

func printValue(w io.Writer, asJSON bool, r readResult) error {
	if asJSON {
		return json.NewEncoder(w).Encode(r)
	}
	_, err := fmt.Fprintf(w, "%s (%s) = %v\n", r.Address, r.Type, r.Value)
	return err
}
