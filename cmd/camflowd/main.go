package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/theckman/yacspin"

	yml "gopkg.in/yaml.v2"

	"github.com/nasa-jpl/camflow/acq"
	"github.com/nasa-jpl/camflow/camera"
	"github.com/nasa-jpl/camflow/device"
	httpcam "github.com/nasa-jpl/camflow/generichttp/camera"
	"github.com/nasa-jpl/camflow/sdk"
	"github.com/nasa-jpl/camflow/server"
	"github.com/nasa-jpl/camflow/server/middleware/locker"
	"github.com/nasa-jpl/camflow/telemetry"
	"github.com/nasa-jpl/camflow/util"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "camflow.yml"

	// EnvPrefix prefixes the environment variables which override the config file
	EnvPrefix = "CAMFLOW_"

	k = koanf.New(".")
)

// backends maps backend names to SDK constructors
var backends = map[string]func(config) (sdk.SDK, error){}

type initial struct {
	HBin int `yaml:"HBin"`
	VBin int `yaml:"VBin"`

	// X0, X1, Y0, Y1 are the region, zero for the full sensor
	X0 int `yaml:"X0"`
	X1 int `yaml:"X1"`
	Y0 int `yaml:"Y0"`
	Y1 int `yaml:"Y1"`

	// Exposure is in seconds
	Exposure float64 `yaml:"Exposure"`

	// ReadoutRate is in Hz, zero for the fastest
	ReadoutRate float64 `yaml:"ReadoutRate"`

	Gain float64 `yaml:"Gain"`
}

func (i initial) settings() camera.Settings {
	return camera.Settings{
		Binning:      camera.Binning{H: i.HBin, V: i.VBin},
		Region:       camera.Region{X0: i.X0, X1: i.X1, Y0: i.Y0, Y1: i.Y1},
		ExposureTime: util.SecsToDuration(i.Exposure),
		ReadoutRate:  i.ReadoutRate,
		Gain:         i.Gain,
	}
}

type engine struct {
	FrameTimeout  time.Duration `yaml:"FrameTimeout"`
	RetryBackoff  time.Duration `yaml:"RetryBackoff"`
	AbortSettle   time.Duration `yaml:"AbortSettle"`
	PoolDepth     int           `yaml:"PoolDepth"`
	ReinitMax     time.Duration `yaml:"ReinitMax"`
	ReinitTimeout time.Duration `yaml:"ReinitTimeout"`
}

type simulator struct {
	Cameras int `yaml:"Cameras"`
	Width   int `yaml:"Width"`
	Height  int `yaml:"Height"`
}

type config struct {
	Addr    string `yaml:"Addr"`
	Root    string `yaml:"Root"`
	Backend string `yaml:"Backend"`
	Camera  int    `yaml:"Camera"`
	IniPath string `yaml:"IniPath"`

	// FeedRate is the largest number of frame summaries per second sent to
	// each websocket client
	FeedRate float64 `yaml:"FeedRate"`

	TemperaturePeriod time.Duration `yaml:"TemperaturePeriod"`
	StopTimeout       time.Duration `yaml:"StopTimeout"`

	Initial   initial          `yaml:"Initial"`
	Engine    engine           `yaml:"Engine"`
	Sim       simulator        `yaml:"Sim"`
	Telemetry telemetry.Config `yaml:"Telemetry"`
}

func defaults() config {
	d := acq.DefaultEngineConfig()
	return config{
		Addr:              ":8000",
		Root:              "/",
		Backend:           "sim",
		IniPath:           "/usr/local/etc/andor",
		FeedRate:          10,
		TemperaturePeriod: 10 * time.Second,
		StopTimeout:       10 * time.Second,
		Initial:           initial{HBin: 1, VBin: 1, Exposure: 0.1},
		Engine: engine{
			FrameTimeout:  d.FrameTimeout,
			RetryBackoff:  d.RetryBackoff,
			AbortSettle:   d.AbortSettle,
			PoolDepth:     d.PoolDepth,
			ReinitMax:     d.Reinit.Max,
			ReinitTimeout: d.Reinit.Timeout,
		},
		Sim:       simulator{Cameras: 1, Width: 1024, Height: 1024},
		Telemetry: telemetry.Config{ClientID: "camflowd", Prefix: "camflow", Timeout: 5 * time.Second},
	}
}

// envKey maps CAMFLOW_ENGINE__FRAMETIMEOUT to Engine.FrameTimeout, matching
// the case of the keys already loaded
func envKey(s string) string {
	key := strings.ReplaceAll(strings.TrimPrefix(s, EnvPrefix), "__", ".")
	for _, known := range k.Keys() {
		if strings.EqualFold(known, key) {
			return known
		}
	}
	return key
}

func setupconfig() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("error loading .env: %v", err)
	}
	k.Load(structs.Provider(defaults(), "yaml"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		log.Fatalf("error loading environment: %v", err)
	}
}

func loadconfig() config {
	c := config{}
	err := k.UnmarshalWithConf("", &c, koanf.UnmarshalConf{Tag: "yaml"})
	if err != nil {
		log.Fatal(err)
	}
	return c
}

func root() {
	str := `camflowd exposes continuous acquisition from scientific cameras over HTTP
and streams a live summary of every frame over a websocket.

Usage:
	camflowd <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	names := make([]string, 0, len(backends))
	for n := range backends {
		names = append(names, n)
	}
	sort.Strings(names)
	str := `camflowd is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

When no configuration is provided, the defaults are used.
The command mkconf generates the configuration file with the default values.
Every key may be overridden by an environment variable prefixed with CAMFLOW_,
nested keys joined by a double underscore, e.g. CAMFLOW_ENGINE__FRAMETIMEOUT=2s.
A .env file in the working directory is loaded first if present.

Backend selects the camera library.  This build supports: %s.
The andor backend is only present in binaries built with -tags andor.

Telemetry is published to an MQTT broker when Telemetry.Broker is set,
e.g. tcp://localhost:1883.`
	fmt.Printf(str+"\n", strings.Join(names, ", "))
}

func mkconf() {
	c := loadconfig()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := loadconfig()
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("camflowd version %v\n", Version)
}

func spinner(msg string) *yacspin.Spinner {
	s, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ",
		Message:           msg,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		log.Fatal(err)
	}
	return s
}

func openCamera(cfg config) *acq.Camera {
	mk, ok := backends[cfg.Backend]
	if !ok {
		log.Fatalf("unknown backend %q, see camflowd help", cfg.Backend)
	}
	s, err := mk(cfg)
	if err != nil {
		log.Fatal(err)
	}

	spin := spinner(fmt.Sprintf("opening camera %d on the %s backend, this can take a while", cfg.Camera, cfg.Backend))
	spin.Start()
	init := cfg.Initial.settings()
	reinit := device.DefaultReinitPolicy()
	reinit.Max = cfg.Engine.ReinitMax
	reinit.Timeout = cfg.Engine.ReinitTimeout
	cam, err := acq.Open(device.NewContext(s), cfg.Camera, acq.Config{
		Engine: acq.EngineConfig{
			FrameTimeout: cfg.Engine.FrameTimeout,
			RetryBackoff: cfg.Engine.RetryBackoff,
			AbortSettle:  cfg.Engine.AbortSettle,
			PoolDepth:    cfg.Engine.PoolDepth,
			Reinit:       reinit,
		},
		TemperaturePeriod: cfg.TemperaturePeriod,
		StopTimeout:       cfg.StopTimeout,
		Initial:           &init,
	})
	if err != nil {
		spin.StopFailMessage(err.Error())
		spin.StopFail()
		log.Fatal(err)
	}
	spin.StopMessage("camera ready")
	spin.Stop()
	return cam
}

func run() {
	cfg := loadconfig()
	cam := openCamera(cfg)
	caps := cam.Capabilities()
	log.Printf("connected to %s, %dx%d pixels, readout rates %v Hz", caps.Model, caps.Width, caps.Height, caps.ReadoutRates())

	feed := httpcam.NewHub(cfg.FeedRate)
	w := httpcam.NewHTTPCamera(cam, feed)
	lock := locker.New()
	locker.Inject(w, lock)

	if cfg.Telemetry.Broker != "" {
		rep, err := telemetry.Connect(cfg.Telemetry)
		if err != nil {
			log.Fatal(err)
		}
		defer rep.Close()
		defer rep.Attach(cam)()
		log.Println("publishing telemetry to", cfg.Telemetry.Broker)
	}

	// clean up the submux string
	hndlrS := server.SubMuxSanitize(cfg.Root)
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	mux := chi.NewRouter()
	mux.Use(lock.Check)
	w.RT().Bind(mux)
	root.Mount(hndlrS, mux)

	srv := &http.Server{Addr: cfg.Addr, Handler: root}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	go func() {
		<-ctx.Done()
		log.Println("shutting down")
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		srv.Shutdown(sctx)
	}()

	log.Println("now listening for requests at ", cfg.Addr+hndlrS)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Println(err)
	}
	feed.Close()
	if err := cam.Close(); err != nil {
		log.Println(err)
	}
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
