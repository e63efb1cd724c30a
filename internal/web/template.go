package web

import (
	"fmt"
	"html/template"
	"io"
	"strconv"
	"time"

	"github.com/sweeney/pcf-relay/internal/bus"
	"github.com/sweeney/pcf-relay/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": formatUptime,
	"addr":   bus.FormatAddress,
	"bits":   func(v uint8) string { return fmt.Sprintf("%08b", v) },
}).Parse(indexHTML))

// formatUptime renders d as "3d 4h 5m 6s", dropping leading zero units.
func formatUptime(d time.Duration) string {
	secs := int64(d / time.Second)
	units := []struct {
		n      int64
		suffix string
	}{
		{secs / 86400, "d"},
		{secs / 3600 % 24, "h"},
		{secs / 60 % 60, "m"},
	}
	out := ""
	for _, u := range units {
		if u.n > 0 || out != "" {
			out += strconv.FormatInt(u.n, 10) + u.suffix + " "
		}
	}
	return out + strconv.FormatInt(secs%60, 10) + "s"
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>PCF8574 Relays</title>
<style>
body { font-family: monospace; max-width: 720px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>PCF8574 Relays{{if .Live}}<span id="live-dot" class="live-dot pending" title="connecting"></span>{{end}}</h1>

<h2>Actuators</h2>
<table>
<tr><th>Name</th><th>Chip</th><th>Pin</th><th>State</th><th>Power</th><th>Period</th></tr>
{{range .Actuators}}<tr>
<td>{{.Name}}</td><td>{{addr .Address}}</td><td>p{{.Pin}}{{if .Inverted}} (inv){{end}}</td>
<td id="state-{{.Name}}" class="{{if .Engaged}}on{{else}}off{{end}}">{{if .Engaged}}ON{{else}}OFF{{end}}</td>
<td id="power-{{.Name}}">{{.Power}}%</td><td>{{.SamplePeriod}}</td>
</tr>
{{else}}<tr><td colspan="6">none configured</td></tr>
{{end}}</table>

<h2>Registers</h2>
<table>
<tr><th>Chip</th><th>Value</th><th>p7..p0</th></tr>
{{range $a, $v := .Registers}}<tr><td>{{addr $a}}</td><td>{{printf "0x%02x" $v}}</td><td>{{bits $v}}</td></tr>
{{end}}<tr><th>Bus writes</th><td colspan="2">{{.BusWrites}} ({{.BusFailures}} failed)</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Instance</th><td>{{.InstanceID}}</td></tr>
<tr><th>State file</th><td>{{.Config.StateFile}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/api/v1/actuators">API</a></p>
{{if .Live}}
<script>
(function() {
  var dot = document.getElementById("live-dot");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/ws");

    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() {
      setDot("err", "offline");
      setTimeout(connect, 5000);
    };
    ws.onmessage = function(ev) {
      try {
        var msg = JSON.parse(ev.data);
        if (msg.type !== "actuator") return;
        var a = msg.data.actuator;
        var st = document.getElementById("state-" + a.name);
        var pw = document.getElementById("power-" + a.name);
        if (st) { st.textContent = a.state; st.className = a.state === "ON" ? "on" : "off"; }
        if (pw) { pw.textContent = a.power + "%"; }
      } catch (e) {}
    };
  }
  connect();
})();
</script>
{{end}}
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot, live bool) error {
	data := struct {
		status.Snapshot
		Uptime time.Duration
		Live   bool
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Live:     live,
	}
	return indexTmpl.Execute(w, data)
}
