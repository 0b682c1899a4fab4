// Package cmdchannel implements the command-channel verbs from spec.md §6:
// INFO/MODE/LIST/SCAN/STAT/CONT/OPER/ATTA/DETA/TRAC. Ported from
// original_source/satip.c's cPluginSatip::SVDRPCommand switch, exposed two
// ways: a line-oriented text listener mirroring SVDRP's verb protocol, and
// an HTTP surface (github.com/gin-gonic/gin + github.com/gin-contrib/cors)
// for callers that prefer REST. Both drive the same Host interface so there
// is exactly one implementation of each verb's behavior.
package cmdchannel

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/satipgo/satip-client/internal/config"
	"github.com/satipgo/satip-client/internal/logging"
	"github.com/satipgo/satip-client/registry"
)

var log = logging.Get("cmdchannel")

// Host is everything the command channel needs from the running process;
// implemented by the top-level application (cmd/satip-client).
type Host interface {
	Config() *config.Config
	Registry() *registry.Registry
	DeviceInfo(index int) (string, error)
	DeviceCount() int
	TriggerScan()
	UseBytesMode() bool
	SetUseBytesMode(bool)
}

// Channel serves both transports against one Host.
type Channel struct {
	host Host
}

func New(host Host) *Channel { return &Channel{host: host} }

// handleVerb implements every SVDRP-style verb, shared by both transports.
// option is the remainder of the command line (may be empty).
func (c *Channel) handleVerb(verb, option string) (string, error) {
	switch strings.ToUpper(verb) {
	case "INFO":
		return c.info(option)
	case "MODE":
		mode := !c.host.UseBytesMode()
		c.host.SetUseBytesMode(mode)
		if mode {
			return "SATIP information mode: bytes", nil
		}
		return "SATIP information mode: bits", nil
	case "LIST":
		return c.list()
	case "SCAN":
		c.host.TriggerScan()
		return "SATIP server scan requested", nil
	case "STAT":
		return c.stat()
	case "CONT":
		return fmt.Sprintf("SATIP device count: %d", c.host.DeviceCount()), nil
	case "OPER":
		return c.oper(option)
	case "ATTA":
		c.host.Config().SetDetached(false)
		log.Info("satip servers attached")
		return "SATIP servers attached", nil
	case "DETA":
		c.host.Config().SetDetached(true)
		log.Info("satip servers detached")
		return "SATIP servers detached", nil
	case "TRAC":
		return c.trac(option)
	default:
		return "", fmt.Errorf("unknown command %q", verb)
	}
}

func (c *Channel) info(option string) (string, error) {
	index := 0
	page := 0
	fields := strings.Fields(option)
	if len(fields) > 0 {
		if n, err := strconv.Atoi(fields[0]); err == nil {
			page = n
		}
	}
	if len(fields) > 1 {
		if n, err := strconv.Atoi(fields[1]); err == nil {
			index = n
		}
	}
	_ = page
	return c.host.DeviceInfo(index)
}

func (c *Channel) list() (string, error) {
	servers := c.host.Registry().ListInfo()
	if len(servers) == 0 {
		return "", fmt.Errorf("no SATIP servers detected")
	}
	return strings.Join(servers, "\n"), nil
}

func (c *Channel) stat() (string, error) {
	var b strings.Builder
	for i := 0; i < c.host.DeviceCount(); i++ {
		info, err := c.host.DeviceInfo(i)
		if err == nil {
			b.WriteString(info)
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

func (c *Channel) oper(option string) (string, error) {
	cfg := c.host.Config()
	if option != "" {
		mode, err := config.ParseOperatingMode(option)
		if err != nil {
			return "", err
		}
		cfg.SetOperatingMode(mode)
	}
	return fmt.Sprintf("SATIP operating mode: %s", cfg.OperatingMode()), nil
}

func (c *Channel) trac(option string) (string, error) {
	cfg := c.host.Config()
	if option != "" {
		mask, err := strconv.ParseInt(option, 0, 32)
		if err != nil {
			return "", err
		}
		cfg.SetDebugBitmask(uint32(mask))
	}
	return fmt.Sprintf("SATIP debug mode: 0x%04X", cfg.DebugBitmask()), nil
}

// ServeText runs the line-oriented verb listener until the listener is
// closed, accepting one verb (and optional argument) per line, replying
// with "200 <result>" or "550 <error>" followed by CRLF.
func (c *Channel) ServeText(l net.Listener) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			return err
		}
		go c.handleTextConn(conn)
	}
}

func (c *Channel) handleTextConn(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		verb, option, _ := strings.Cut(line, " ")
		reply, err := c.handleVerb(verb, option)
		if err != nil {
			fmt.Fprintf(conn, "550 %s\r\n", err)
			continue
		}
		fmt.Fprintf(conn, "200 %s\r\n", reply)
	}
}

// Router builds the gin HTTP surface: GET /info, GET /list, POST /scan,
// GET /stat, POST /mode, POST /attach, POST /detach, POST /trace. Every
// request is tagged with a correlation id via github.com/google/uuid for
// cross-log tracing.
func (c *Channel) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.Default())
	r.Use(func(ctx *gin.Context) {
		id := uuid.New().String()
		ctx.Writer.Header().Set("X-Correlation-Id", id)
		ctx.Set("correlationId", id)
		ctx.Next()
	})

	r.GET("/info", func(ctx *gin.Context) {
		idx, _ := strconv.Atoi(ctx.DefaultQuery("device", "0"))
		info, err := c.host.DeviceInfo(idx)
		respond(ctx, info, err)
	})
	r.GET("/list", func(ctx *gin.Context) {
		info, err := c.list()
		respond(ctx, info, err)
	})
	r.POST("/scan", func(ctx *gin.Context) {
		c.host.TriggerScan()
		ctx.JSON(200, gin.H{"status": "scan requested"})
	})
	r.GET("/stat", func(ctx *gin.Context) {
		info, err := c.stat()
		respond(ctx, info, err)
	})
	r.POST("/mode", func(ctx *gin.Context) {
		reply, err := c.oper(ctx.Query("mode"))
		respond(ctx, reply, err)
	})
	r.POST("/attach", func(ctx *gin.Context) {
		c.host.Config().SetDetached(false)
		ctx.JSON(200, gin.H{"status": "attached"})
	})
	r.POST("/detach", func(ctx *gin.Context) {
		c.host.Config().SetDetached(true)
		ctx.JSON(200, gin.H{"status": "detached"})
	})
	r.POST("/trace", func(ctx *gin.Context) {
		reply, err := c.trac(ctx.Query("mask"))
		respond(ctx, reply, err)
	})
	return r
}

func respond(ctx *gin.Context, body string, err error) {
	if err != nil {
		ctx.JSON(550, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(200, gin.H{"result": body})
}
