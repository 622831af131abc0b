package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/burner-sim/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"level": status.RoundLevel,
	"statusClass": func(s string) string {
		switch s {
		case "UNDER_GOAL":
			return "heating"
		case "OFF", "COOLED_OFF", "COOLED_OFF_ANNOUNCED", "":
			return "off"
		}
		return "idle"
	},
	"orUnknown": func(s string) string {
		if s == "" {
			return "UNKNOWN"
		}
		return s
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Burner</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.heating { color: #c40; font-weight: bold; }
.idle { color: green; }
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
<h1>Burner{{if .Live}}<span id="live-dot" class="live-dot pending" title="connecting"></span>{{end}}</h1>

<h2>State</h2>
<table>
<tr><th>Level</th><td id="level">{{level .Level}}</td></tr>
<tr><th>Goal</th><td id="goal">{{.Goal}}</td></tr>
<tr><th>Status</th><td id="status" class="{{statusClass (printf "%s" .Status)}}">{{orUnknown (printf "%s" .Status)}}</td></tr>
<tr><th>Activity</th><td>{{orUnknown (printf "%s" .Activity)}}</td></tr>
<tr><th>Relay</th><td>{{if .RelayOn}}on{{else}}off{{end}}</td></tr>
<tr><th>Ticks</th><td>{{.Ticks}}</td></tr>
</table>

<form method="post" action="/goal">
<label>Goal <input name="goal" type="number" min="0" max="{{.Config.MaxGoal}}" step="any" value="{{.Goal}}"></label>
<button type="submit">Set</button>
</form>

<h2>Announcements</h2>
<table>
<tr><th>Goal set</th><td>{{.Counts.GoalSet}}</td></tr>
<tr><th>Temperature reached</th><td>{{.Counts.TemperatureReached}}</td></tr>
<tr><th>Burner off</th><td>{{.Counts.BurnerOff}}</td></tr>
<tr><th>Cooled down</th><td>{{.Counts.CooledDown}}</td></tr>
<tr><th>Last</th><td>{{.LastUtterance}}</td></tr>
<tr><th>Speech errors</th><td>{{.SpeechErrors}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Tick</th><td>{{.Config.TickMs}}ms</td></tr>
<tr><th>Rate</th><td>{{.Config.Rate}} degrees/tick</td></tr>
<tr><th>Display</th><td>{{.Config.DisplayMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>Speech</th><td>{{.Config.Speech}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a>{{if .Live}} · <a href="/metrics">metrics</a>{{end}}</p>
{{if .Live}}
<script>
(function() {
  var dot = document.getElementById("live-dot");
  var levelEl = document.getElementById("level");
  var goalEl = document.getElementById("goal");
  var statusEl = document.getElementById("status");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function statusClass(s) {
    if (s === "UNDER_GOAL") return "heating";
    if (s === "OFF" || s === "COOLED_OFF" || s === "COOLED_OFF_ANNOUNCED") return "off";
    return "idle";
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
        var f = JSON.parse(ev.data);
        levelEl.textContent = f.level;
        goalEl.textContent = f.goal;
        statusEl.textContent = f.status;
        statusEl.className = statusClass(f.status);
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
	// Snapshot has Uptime() method but template needs a Duration field.
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
