package splitkv

import (
	"errors"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	. "github.com/stevegt/goadapt"
	"github.com/stevegt/splitkv/kv"
	"github.com/stevegt/splitkv/kv/codec"
	"github.com/stevegt/splitkv/transform"
)

// unnamedArg names the unnamed database on the command line.
const unnamedArg = "."

type cmdPut struct {
	Db    string `arg:"" help:"Database name, or '.' for the unnamed database."`
	Key   string `arg:"" help:"Key."`
	Value string `arg:"" optional:"" help:"Value.  Read from stdin if omitted."`
	New   bool   `short:"n" help:"Fail if the key already exists."`
}

type cmdGet struct {
	Db  string `arg:"" help:"Database name, or '.' for the unnamed database."`
	Key string `arg:"" help:"Key."`
}

type cmdDel struct {
	Db  string `arg:"" help:"Database name, or '.' for the unnamed database."`
	Key string `arg:"" help:"Key."`
}

type cmdLs struct {
	Db      string `arg:"" help:"Database name, or '.' for the unnamed database."`
	Prefix  string `short:"p" help:"Only list keys with this prefix."`
	Reverse bool   `short:"r" help:"List in reverse key order."`
	Values  bool   `short:"l" help:"Show values as well as keys."`
}

type cmdDbs struct{}

type cmdCreate struct {
	Db string `arg:"" help:"Database name."`
}

type cmdDrop struct {
	Db string `arg:"" help:"Database name."`
}

type cmdCopy struct {
	Src       string `arg:"" help:"Source database, or '.' for the unnamed database."`
	Dst       string `arg:"" help:"Destination database, or '.' for the unnamed database."`
	Transform string `short:"t" default:"identity" enum:"identity,compress,decompress,address" help:"Transform applied to each entry: identity, compress, decompress or address (content-addressed objects)."`
}

type cmdBackup struct {
	File string `arg:"" help:"File to write the backup to."`
}

type cmdStat struct{}

type cmdVersion struct{}

// CLI is the kong command line.  Cli builds a fresh one per call.
type CLI struct {
	Dir     string `short:"d" default:".splitkv" help:"Environment directory."`
	Config  string `short:"c" type:"existingfile" help:"YAML configuration file."`
	Metrics bool   `short:"m" help:"Print transaction metrics on stderr when done."`
	Verbose bool   `short:"v" help:"Show debug logging on stderr."`

	Put     cmdPut     `cmd:"" help:"Store a value."`
	Get     cmdGet     `cmd:"" help:"Print a value."`
	Del     cmdDel     `cmd:"" help:"Delete a key."`
	Ls      cmdLs      `cmd:"" help:"List the keys of a database."`
	Dbs     cmdDbs     `cmd:"" help:"List the named databases."`
	Create  cmdCreate  `cmd:"" help:"Create a named database."`
	Drop    cmdDrop    `cmd:"" help:"Drop a named database and its entries."`
	Copy    cmdCopy    `cmd:"" help:"Copy one database into another through a split transaction."`
	Backup  cmdBackup  `cmd:"" help:"Write a consistent copy of the data file."`
	Stat    cmdStat    `cmd:"" help:"Show environment statistics."`
	Version cmdVersion `cmd:"" help:"Show version of splitkv and its on-disk format."`
}

// CliConfig contains the configuration for splitkv's cli
type CliConfig struct {
	// Name is the name of the program
	Name string
	// Description is a short description of the program
	Description string
	// Version is the version of the program
	Version string
	// Exit is the function to call to exit the program
	Exit   func(int)
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// NewCliConfig returns a new CliConfig struct with default values
// populated
func NewCliConfig() *CliConfig {
	return &CliConfig{
		Name:        "splitkv",
		Description: "A command-line tool for a bbolt key-value environment with split read/write transactions.",
		Version:     CodeVersion(),
		Exit:        func(i int) { os.Exit(i) },
		Stdin:       os.Stdin,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
	}
}

func dbName(arg string) string {
	if arg == unnamedArg {
		return ""
	}
	return arg
}

// cmdInSlice returns true if the first word of cmd is in cmds.
func cmdInSlice(cmd string, cmds []string) bool {
	first := strings.Split(cmd, " ")[0]
	for _, c := range cmds {
		if c == first {
			return true
		}
	}
	return false
}

// Cli parses the given arguments and then executes the appropriate
// subcommand.
//
// We use this function instead of kong.Parse() so that we can pass in
// the arguments to parse, which lets tests drive the subcommands.
func Cli(args []string, config *CliConfig) (rc int, err error) {
	defer Return(&err)

	// capture goadapt stdio
	SetStdio(
		config.Stdin,
		config.Stdout,
		config.Stderr,
	)
	defer SetStdio(nil, nil, nil)

	options := []kong.Option{
		kong.Name(config.Name),
		kong.Description(config.Description),
		kong.Exit(config.Exit),
		kong.Writers(config.Stdout, config.Stderr),
		kong.Vars{
			"version": config.Version,
		},
	}

	cli := &CLI{}
	var parser *kong.Kong
	parser, err = kong.New(cli, options...)
	Ck(err)
	ctx, err := parser.Parse(args)
	parser.FatalIfErrorf(err)
	if err != nil {
		// Exit was overridden and returned
		return 1, nil
	}

	cmd := ctx.Command()
	if cmd == "version" {
		Pf("splitkv version %s\n", CodeVersion())
		Pf("format version %s\n", kv.FormatVersion)
		return
	}

	fc := &FileConfig{}
	if cli.Config != "" {
		fc, err = LoadFileConfig(cli.Config)
		Ck(err)
	}
	dir := cli.Dir
	if fc.Dir != "" && !flagSet(args, "dir", "d") {
		dir = fc.Dir
	}
	log, err := fc.Log.Logger(config.Stderr, cli.Verbose)
	Ck(err)
	defer log.Sync()

	opts := fc.Options()
	opts.Logger = log
	reg := prometheus.NewRegistry()
	opts.Registerer = reg
	// list of commands that only read
	roCmds := []string{"get", "ls", "dbs", "stat", "backup"}
	opts.ReadOnly = cmdInSlice(cmd, roCmds)

	env, err := kv.Open(dir, opts)
	Ck(err)
	defer func() {
		cerr := env.Close()
		if err == nil {
			err = cerr
		}
	}()

	switch cmd {
	case "put <db> <key>", "put <db> <key> <value>":
		rc, err = put(env, config, cli.Put)
	case "get <db> <key>":
		rc, err = get(env, config, cli.Get)
	case "del <db> <key>":
		rc, err = del(env, config, cli.Del)
	case "ls <db>":
		err = ls(env, cli.Ls)
	case "dbs":
		err = env.View(func(txn *kv.RoTxn) error {
			names, err := env.ListDatabases(txn)
			for _, name := range names {
				Pl(name)
			}
			return err
		})
	case "create <db>":
		err = env.Update(func(txn *kv.RwTxn) error {
			_, err := kv.CreateDatabase[[]byte, []byte](txn, dbName(cli.Create.Db), codec.Bytes{}, codec.Bytes{})
			return err
		})
	case "drop <db>":
		rc, err = drop(env, config, cli.Drop)
	case "copy <src> <dst>":
		rc, err = copyDb(env, config, cli.Copy)
	case "backup <file>":
		err = env.Backup(cli.Backup.File)
		if err == nil {
			Pf("backup of %s saved to %s\n", env.Dir(), cli.Backup.File)
		}
	case "stat":
		err = stat(env)
	default:
		Fpf(config.Stderr, "Error: unrecognized command: %s\n", cmd)
		rc = 1
		return
	}
	Ck(err)

	if cli.Metrics {
		err = printMetrics(config.Stderr, reg)
		Ck(err)
	}
	return
}

// flagSet reports whether a long or short flag appears in args.
func flagSet(args []string, long, short string) bool {
	for _, a := range args {
		if a == "--"+long || strings.HasPrefix(a, "--"+long+"=") || a == "-"+short || strings.HasPrefix(a, "-"+short+"=") {
			return true
		}
	}
	return false
}

func bytesDb(txn kv.ReadTxn, name string) (*kv.Database[[]byte, []byte], error) {
	return kv.OpenDatabase[[]byte, []byte](txn, name, codec.Bytes{}, codec.Bytes{})
}

func put(env *kv.Env, config *CliConfig, c cmdPut) (rc int, err error) {
	defer Return(&err)
	val := []byte(c.Value)
	if c.Value == "" {
		val, err = io.ReadAll(config.Stdin)
		Ck(err)
	}
	err = env.Update(func(txn *kv.RwTxn) error {
		db, err := kv.CreateDatabase[[]byte, []byte](txn, dbName(c.Db), codec.Bytes{}, codec.Bytes{})
		if err != nil {
			return err
		}
		if c.New {
			return db.PutNoOverwrite(txn, []byte(c.Key), val)
		}
		return db.Put(txn, []byte(c.Key), val)
	})
	if errors.Is(err, kv.ErrKeyExists) {
		Fpf(config.Stderr, "Error: key %s already exists in %s\n", c.Key, c.Db)
		return 1, nil
	}
	Ck(err)
	return
}

func get(env *kv.Env, config *CliConfig, c cmdGet) (rc int, err error) {
	defer Return(&err)
	var val []byte
	var ok bool
	err = env.View(func(txn *kv.RoTxn) error {
		db, err := bytesDb(txn, dbName(c.Db))
		if err != nil {
			return err
		}
		v, found, err := db.Get(txn, []byte(c.Key))
		// copy out before the transaction ends
		val, ok = append([]byte(nil), v...), found
		return err
	})
	if errors.Is(err, kv.ErrDatabaseNotFound) {
		ok, err = false, nil
	}
	Ck(err)
	if !ok {
		Fpf(config.Stderr, "Error: key %s not found in %s\n", c.Key, c.Db)
		return 1, nil
	}
	Pf("%s\n", val)
	return
}

func del(env *kv.Env, config *CliConfig, c cmdDel) (rc int, err error) {
	defer Return(&err)
	var found bool
	err = env.Update(func(txn *kv.RwTxn) error {
		db, err := bytesDb(txn, dbName(c.Db))
		if err != nil {
			return err
		}
		found, err = db.Delete(txn, []byte(c.Key))
		return err
	})
	if errors.Is(err, kv.ErrDatabaseNotFound) {
		found, err = false, nil
	}
	Ck(err)
	if !found {
		Fpf(config.Stderr, "Error: key %s not found in %s\n", c.Key, c.Db)
		return 1, nil
	}
	return
}

func ls(env *kv.Env, c cmdLs) error {
	return env.View(func(txn *kv.RoTxn) error {
		db, err := bytesDb(txn, dbName(c.Db))
		if err != nil {
			return err
		}
		var it *kv.Iter[[]byte, []byte]
		switch {
		case c.Prefix != "" && c.Reverse:
			it, err = db.RevPrefix(txn, []byte(c.Prefix))
		case c.Prefix != "":
			it, err = db.Prefix(txn, []byte(c.Prefix))
		case c.Reverse:
			it, err = db.RevIter(txn)
		default:
			it, err = db.Iter(txn)
		}
		if err != nil {
			return err
		}
		for it.Next() {
			if c.Values {
				Pf("%s\t%s\n", it.Key(), it.Value())
			} else {
				Pf("%s\n", it.Key())
			}
		}
		return it.Err()
	})
}

func drop(env *kv.Env, config *CliConfig, c cmdDrop) (rc int, err error) {
	defer Return(&err)
	var existed bool
	err = env.Update(func(txn *kv.RwTxn) error {
		existed, err = kv.DropDatabase(txn, dbName(c.Db))
		return err
	})
	Ck(err)
	if !existed {
		Fpf(config.Stderr, "Error: database %s not found\n", c.Db)
		return 1, nil
	}
	return
}

var transforms = map[string]transform.Transform{
	"identity":   transform.Identity,
	"compress":   transform.Compress,
	"decompress": transform.Decompress,
	"address":    transform.ContentAddress("blob"),
}

func copyDb(env *kv.Env, config *CliConfig, c cmdCopy) (rc int, err error) {
	defer Return(&err)
	fn, ok := transforms[c.Transform]
	Assert(ok, "unknown transform %s", c.Transform)
	n, err := transform.CopyAndCommit(env, dbName(c.Src), dbName(c.Dst), fn)
	if errors.Is(err, transform.ErrUnsoundPairing) {
		Fpf(config.Stderr, "Error: %v\n", err)
		return 1, nil
	}
	Ck(err)
	Pf("copied %d entries from %s to %s\n", n, c.Src, c.Dst)
	return
}

func stat(env *kv.Env) (err error) {
	defer Return(&err)
	s := env.Stats()
	Pf("dir %s\n", env.Dir())
	Pf("format %s\n", env.Format())
	Pf("id %s\n", env.ID())
	err = env.View(func(txn *kv.RoTxn) error {
		names, err := env.ListDatabases(txn)
		if err != nil {
			return err
		}
		Pf("databases %d\n", len(names))
		root, err := bytesDb(txn, "")
		if err != nil {
			return err
		}
		n, err := root.Len(txn)
		Pf("unnamed entries %d\n", n)
		return err
	})
	Ck(err)
	Pf("free pages %d\n", s.FreePageN)
	Pf("pending pages %d\n", s.PendingPageN)
	Pf("read txns %d\n", s.TxN)
	return
}

// printMetrics writes every counter in reg as "name{labels} value".
func printMetrics(w io.Writer, reg *prometheus.Registry) error {
	mfs, err := reg.Gather()
	if err != nil {
		return err
	}
	var lines []string
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, l := range m.GetLabel() {
				labels = append(labels, Spf("%s=%q", l.GetName(), l.GetValue()))
			}
			name := mf.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}
			lines = append(lines, Spf("%s %v", name, m.GetCounter().GetValue()))
		}
	}
	sort.Strings(lines)
	for _, line := range lines {
		Fpf(w, "%s\n", line)
	}
	return nil
}
