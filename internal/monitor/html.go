package monitor

import "strings"

const indexHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Pose Monitor</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <link rel="stylesheet" href="/assets/monitor.css">
</head>
<body>
    <div class="app">
        <div class="header">
            <div class="title">Pose Monitor</div>
            <span class="badge badge-secondary" id="status-badge">Waiting for data...</span>
        </div>

        <div class="grid">
            <div class="panel" style="grid-row: span 2;">
                <h2>Live Feed</h2>
                <p class="panel-subtitle">Model input with boxes, shoulders, elbows and arm angles</p>
                <img id="stream" src="/stream" alt="Pose overlay stream" style="width:100%;height:auto;">
            </div>

            <div class="panel">
                <h2>Status</h2>
                <div class="stat-grid">
                    <div class="stat">
                        <span class="stat-label">FPS</span>
                        <span class="stat-value" id="fps">--</span>
                    </div>
                    <div class="stat">
                        <span class="stat-label">Poses</span>
                        <span class="stat-value" id="poses">--</span>
                        <span class="stat-sub" id="version">---</span>
                    </div>
                </div>
                <div class="list">
                    <div class="list-item">
                        <div class="list-label">Frames processed</div>
                        <div class="list-value" id="frames">--</div>
                    </div>
                    <div class="list-item">
                        <div class="list-label">Empty frames</div>
                        <div class="list-value" id="empty">--</div>
                    </div>
                    <div class="list-item">
                        <div class="list-label">Duplicates suppressed</div>
                        <div class="list-value" id="suppressed">--</div>
                    </div>
                </div>
            </div>

            <div class="panel">
                <h2>Arm Angles</h2>
                <table class="angles">
                    <thead><tr><th>#</th><th>conf</th><th>left</th><th>right</th></tr></thead>
                    <tbody id="angles"></tbody>
                </table>
            </div>

            <div class="panel">
                <h2>Recording</h2>
                <button id="record-btn" class="btn btn-primary">Record</button>
                <span id="record-status">idle</span>
            </div>
        </div>
    </div>

    <script>
        const $ = (id) => document.getElementById(id);
        const deg = (v) => v === null ? '--' : v.toFixed(1);

        const status = new EventSource('/api/status/stream');
        status.onmessage = (e) => {
            const s = JSON.parse(e.data).monitor;
            $('fps').textContent = s.current_fps.toFixed(1);
            $('poses').textContent = s.detection_count;
            $('version').textContent = 'v' + s.version;
            $('frames').textContent = s.frames_processed;
            $('empty').textContent = s.empty_frames;
            $('suppressed').textContent = s.suppressed;
            $('status-badge').textContent = 'Live';
        };

        const poses = new EventSource('/api/poses/stream');
        poses.onmessage = (e) => {
            const ev = JSON.parse(e.data);
            $('angles').innerHTML = ev.detections.map((d, i) =>
                '<tr><td>' + i + '</td><td>' + d.confidence.toFixed(2) + '</td><td>' +
                deg(d.angles.left_degrees) + '</td><td>' + deg(d.angles.right_degrees) + '</td></tr>'
            ).join('');
        };

        let recording = false;
        const setRecording = (on, text) => {
            recording = on;
            $('record-btn').textContent = on ? 'Stop' : 'Record';
            $('record-status').textContent = text;
        };
        fetch('/api/recording/status').then(r => r.json()).then(s => setRecording(s.recording, s.filename || 'idle'));
        $('record-btn').onclick = async () => {
            const r = await fetch(recording ? '/api/recording/stop' : '/api/recording/start', {method: 'POST'});
            const body = await r.json();
            if (!r.ok) {
                $('record-status').textContent = body.error;
                return;
            }
            setRecording(!recording, recording ? body.stats.event_count + ' events' : body.file);
        };
    </script>
</body>
</html>
`

const reloadScript = `    <script>
        new EventSource('/api/dev/reload').onmessage = () => location.reload();
    </script>
</body>`

// renderIndex returns the index page, with the live-reload hook when enabled.
func renderIndex(devReload bool) string {
	if !devReload {
		return indexHTML
	}
	return strings.Replace(indexHTML, "</body>", reloadScript, 1)
}
