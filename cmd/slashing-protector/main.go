package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"github.com/alecthomas/kong"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	protectorhttp "github.com/watchtower-eth/slashing-protector/http"
	"github.com/watchtower-eth/slashing-protector/protector"
	"github.com/watchtower-eth/slashing-protector/protector/interchange"
	"github.com/watchtower-eth/slashing-protector/protector/store"
)

// Exit codes for the import/export subcommands.
const (
	exitOK       = 0
	exitConflict = 2
	exitIO       = 3
)

var CLI struct {
	Serve  serveCmd  `cmd:"" default:"1" help:"Serve the slashing-protection HTTP API."`
	Import importCmd `cmd:"" help:"Import an EIP-3076 interchange file."`
	Export exportCmd `cmd:"" help:"Export the store as an EIP-3076 interchange file."`
}

type serveCmd struct {
	DbPath string `env:"DB_PATH" help:"Path to the database directory" default:"/slashing-protector-data"`
	Addr   string `env:"ADDR" help:"Address to listen on" default:":9369"`
}

func (c *serveCmd) Run(logger *zap.Logger) error {
	// Display the configuration. Don't expose sensitive attributes!
	logger.Debug("Starting slashing-protector",
		zap.String("db_path", c.DbPath),
		zap.String("addr", c.Addr),
	)

	prtc := protector.New(c.DbPath)
	defer prtc.Close()
	srv := protectorhttp.NewServer(logger, prtc)
	err := http.ListenAndServe(c.Addr, srv)
	return errors.Wrap(err, "ListenAndServe")
}

type importCmd struct {
	DbPath      string `env:"DB_PATH" help:"Path to the database directory" default:"/slashing-protector-data"`
	Network     string `help:"Network name the store files belong to" default:"mainnet"`
	File        string `arg:"" help:"Path to the interchange file to import"`
	GenesisRoot string `help:"Expected genesis validators root, 0x-prefixed hex" required:""`
}

func (c *importCmd) Run(logger *zap.Logger) error {
	var expected interchange.Hash32
	if err := expected.UnmarshalJSON([]byte(`"` + c.GenesisRoot + `"`)); err != nil {
		return errors.Wrap(err, "parse genesis root")
	}

	f, err := os.Open(c.File)
	if err != nil {
		return errors.Wrap(err, "open interchange file")
	}
	defer f.Close()

	doc, err := interchange.Parse(f)
	if err != nil {
		return errors.Wrap(err, "parse interchange file")
	}
	if doc.Metadata.GenesisValidatorsRoot != expected.Phase0() {
		return &store.ErrGenesisRootMismatch{Expected: expected.Phase0(), Got: doc.Metadata.GenesisValidatorsRoot}
	}

	prtc := protector.New(c.DbPath)
	defer prtc.Close()
	if err := prtc.Import(context.Background(), c.Network, doc); err != nil {
		return err
	}
	logger.Info("Imported interchange file",
		zap.String("file", c.File),
		zap.Int("validators", doc.Len()),
	)
	return nil
}

type exportCmd struct {
	DbPath  string `env:"DB_PATH" help:"Path to the database directory" default:"/slashing-protector-data"`
	Network string `help:"Network name the store files belong to" default:"mainnet"`
	File    string `arg:"" optional:"" help:"Output path; stdout if omitted"`
	Format  string `help:"Interchange format to export" enum:"minimal,complete" default:"complete"`
}

func (c *exportCmd) Run(logger *zap.Logger) error {
	prtc := protector.New(c.DbPath)
	defer prtc.Close()

	doc, err := prtc.Export(context.Background(), c.Network, interchange.Format(c.Format))
	if err != nil {
		return err
	}

	out := os.Stdout
	if c.File != "" {
		out, err = os.Create(c.File)
		if err != nil {
			return errors.Wrap(err, "create output file")
		}
		defer out.Close()
	}
	if err := doc.Write(out); err != nil {
		return err
	}
	logger.Info("Exported interchange file", zap.Int("validators", doc.Len()))
	return nil
}

func main() {
	ctx := kong.Parse(&CLI)

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	if err := ctx.Run(logger); err != nil {
		logger.Error("Command failed", zap.Error(err))
		os.Exit(exitCode(err))
	}
	os.Exit(exitOK)
}

// exitCode distinguishes an interchange conflict (a per-record safety
// violation inside an otherwise valid document) from I/O and schema
// failures.
func exitCode(err error) int {
	var conflict *store.ErrInterchangeConflict
	if errors.As(err, &conflict) {
		return exitConflict
	}
	return exitIO
}
