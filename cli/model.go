package cli

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/absmach/flround/pkg/fl"
	"github.com/absmach/flround/pkg/params"
	"github.com/absmach/flround/pkg/storage/badger"
	"github.com/spf13/cobra"
)

var errLayerSpec = errors.New("layer must be given as name=D1xD2...")

type TensorSummary struct {
	Shape []int   `json:"shape"`
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	L2    float64 `json:"l2_norm"`
}

type LayerSummary struct {
	Name   string        `json:"name"`
	Weight TensorSummary `json:"weight"`
	Bias   TensorSummary `json:"bias"`
}

func summarize(ps params.ParameterSet) []LayerSummary {
	out := make([]LayerSummary, 0, ps.Len())
	for _, e := range ps.Entries() {
		out = append(out, LayerSummary{
			Name:   e.Name,
			Weight: summarizeTensor(e.Layer.Weight),
			Bias:   summarizeTensor(e.Layer.Bias),
		})
	}

	return out
}

func summarizeTensor(t params.Tensor) TensorSummary {
	s := TensorSummary{Shape: t.Shape, Count: t.Len()}
	if s.Shape == nil {
		s.Shape = []int{}
	}
	if s.Count == 0 {
		return s
	}

	s.Min, s.Max = math.Inf(1), math.Inf(-1)
	var sum, sq float64
	for _, v := range t.Data {
		s.Min = min(s.Min, v)
		s.Max = max(s.Max, v)
		sum += v
		sq += v * v
	}
	s.Mean = sum / float64(s.Count)
	s.L2 = math.Sqrt(sq)

	return s
}

// parseLayer reads "dense=4x3" into a name and a shape.
func parseLayer(spec string) (string, []int, error) {
	name, dims, ok := strings.Cut(spec, "=")
	if !ok || name == "" || dims == "" {
		return "", nil, fmt.Errorf("%w: %q", errLayerSpec, spec)
	}

	var shape []int
	for _, d := range strings.Split(dims, "x") {
		n, err := strconv.Atoi(d)
		if err != nil || n <= 0 {
			return "", nil, fmt.Errorf("%w: %q", errLayerSpec, spec)
		}
		shape = append(shape, n)
	}

	return name, shape, nil
}

// initParameters draws weights uniformly from [-scale, scale]. Biases are
// zero and sized by the last weight dimension.
func initParameters(specs []string, seed uint64, scale float64) (params.ParameterSet, error) {
	rng := rand.New(rand.NewPCG(seed, seed))

	entries := make([]params.Entry, 0, len(specs))
	for _, spec := range specs {
		name, shape, err := parseLayer(spec)
		if err != nil {
			return params.ParameterSet{}, err
		}

		n := 1
		for _, d := range shape {
			n *= d
		}
		data := make([]float64, n)
		for i := range data {
			data[i] = (rng.Float64()*2 - 1) * scale
		}
		weight, err := params.NewTensor(shape, data)
		if err != nil {
			return params.ParameterSet{}, err
		}

		out := shape[len(shape)-1]
		bias, err := params.NewTensor([]int{out}, make([]float64, out))
		if err != nil {
			return params.ParameterSet{}, err
		}

		entries = append(entries, params.Entry{Name: name, Layer: params.Layer{Weight: weight, Bias: bias}})
	}

	return params.New(entries...)
}

func NewModelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model [view|init|pull]",
		Short: "Parameter files",
		Long:  `Inspect, create and export encoded parameter sets.`,
	}

	viewCmd := &cobra.Command{
		Use:   "view <file>",
		Short: "View parameter file",
		Long: "Summarize every layer of an encoded parameter file.\n" +
			"Usage Example:\n" +
			"\tflround-cli model view global_parameters.cbor\n",
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			sink, err := newFileSink()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			ps, err := sink.Load(cmd.Context(), args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, summarize(ps))
		},
	}

	var (
		layers []string
		seed   uint64
		scale  float64
	)
	initCmd := &cobra.Command{
		Use:   "init <file>",
		Short: "Create initial parameters",
		Long: "Write a randomly initialized parameter file.\n" +
			"Usage Example:\n" +
			"\tflround-cli model init initial_parameters.cbor --layer dense=4x3 --layer out=3x1\n",
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 || len(layers) == 0 {
				logUsageCmd(*cmd, cmd.Use+" --layer name=D1xD2")

				return
			}

			ps, err := initParameters(layers, seed, scale)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			sink, err := newFileSink()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			if err := sink.Save(cmd.Context(), ps, args[0]); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logOKCmd(*cmd)
		},
	}
	initCmd.Flags().StringArrayVar(&layers, "layer", nil, "Layer as name=D1xD2, repeatable")
	initCmd.Flags().Uint64Var(&seed, "seed", 1, "Random seed")
	initCmd.Flags().Float64Var(&scale, "scale", 0.1, "Weights are drawn from [-scale, scale]")

	var dbPath string
	pullCmd := &cobra.Command{
		Use:   "pull <name> <file>",
		Short: "Export a stored model",
		Long: "Copy a model saved by the coordinator's badger storage into a file.\n" +
			"Usage Example:\n" +
			"\tflround-cli model pull global_parameters.cbor out.cbor --db ./flround-data\n",
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 2 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			if err := pullModel(cmd.Context(), dbPath, args[0], args[1]); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logOKCmd(*cmd)
		},
	}
	pullCmd.Flags().StringVar(&dbPath, "db", "flround-data", "Badger database directory")

	cmd.AddCommand(viewCmd)
	cmd.AddCommand(initCmd)
	cmd.AddCommand(pullCmd)

	return cmd
}

func newFileSink() (*fl.FileSink, error) {
	codec, err := params.NewCBORCodec()
	if err != nil {
		return nil, err
	}

	return fl.NewFileSink(codec), nil
}

func pullModel(ctx context.Context, dbPath, name, path string) error {
	codec, err := params.NewCBORCodec()
	if err != nil {
		return err
	}

	db, err := badger.NewDatabase(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	ps, err := badger.NewModelRepository(db, codec).Load(ctx, name)
	if err != nil {
		return err
	}

	return fl.NewFileSink(codec).Save(ctx, ps, path)
}
