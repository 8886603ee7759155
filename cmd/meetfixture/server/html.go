package server

// avatarSVG is served for participants without an email address.
const avatarSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="64" height="64" viewBox="0 0 64 64">
<rect width="64" height="64" fill="#9aa0a6"/>
<circle cx="32" cy="24" r="12" fill="#f1f3f4"/>
<path d="M12 58c0-12 9-20 20-20s20 8 20 20z" fill="#f1f3f4"/>
</svg>`

// HTMLPage is the meeting page served for every room.
// It joins the room named by the URL path over the signaling WebSocket,
// publishes the fake camera and microphone, and renders the roster. Browser
// tests read its state through the DOM and the window.meet hooks.
const HTMLPage = `<!DOCTYPE html>
<html>
<head>
    <title>Meet Fixture</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            margin: 0;
            background: #202124;
            color: #e8eaed;
        }
        #toolbar {
            display: flex;
            gap: 8px;
            padding: 12px;
            background: #303134;
        }
        button {
            background: #4285f4;
            color: white;
            border: none;
            padding: 8px 16px;
            border-radius: 4px;
            cursor: pointer;
        }
        button.off { background: #ea4335; }
        #hangup { background: #d93025; }
        #settings { padding: 12px; display: flex; gap: 8px; }
        #tiles {
            display: flex;
            flex-wrap: wrap;
            gap: 12px;
            padding: 12px;
        }
        .tile {
            width: 200px;
            padding: 12px;
            border-radius: 8px;
            background: #3c4043;
            border: 3px solid transparent;
        }
        .tile.dominant { border-color: #34a853; }
        .tile img.avatar { width: 64px; height: 64px; border-radius: 50%; }
        .dialog {
            display: none;
            position: fixed;
            top: 30%;
            left: 50%;
            transform: translateX(-50%);
            padding: 24px;
            border-radius: 8px;
            background: #f1f3f4;
            color: #202124;
        }
        #local-video { width: 160px; background: #000; }
    </style>
</head>
<body>
    <div id="toolbar">
        <button id="toggle-audio">Mute audio</button>
        <button id="toggle-video">Stop video</button>
        <button id="lock-room">Lock room</button>
        <button id="hangup">Leave</button>
        <span id="status">connecting</span>
    </div>
    <div id="settings">
        <input id="display-name-input" placeholder="Display name">
        <input id="email-input" placeholder="Email">
    </div>
    <video id="local-video" autoplay muted playsinline></video>
    <div id="tiles"></div>

    <div id="password-dialog" class="dialog">
        <p>This conference is locked.</p>
        <input id="password-input" type="password">
        <button id="password-submit">Join</button>
    </div>
    <div id="lock-dialog" class="dialog">
        <p>Room password (empty unlocks)</p>
        <input id="lock-password-input" type="text">
        <button id="lock-submit">Apply</button>
    </div>
    <div id="conference-full-dialog" class="dialog"><p>The conference is full.</p></div>
    <div id="shutdown-dialog" class="dialog"><p>The server is shutting down.</p></div>
    <div id="left-dialog" class="dialog"><p>You left the conference.</p></div>

    <script>
        const room = decodeURIComponent(location.pathname.replace(/^\//, ''));

        // Fragment keys look like config.startAudioMuted=true or
        // userInfo.displayName="Alice"; values are JSON when they parse.
        function parseFragment() {
            const out = {};
            const hash = location.hash.replace(/^#/, '');
            if (!hash) {
                return out;
            }
            for (const part of hash.split('&')) {
                const eq = part.indexOf('=');
                if (eq < 0) {
                    continue;
                }
                const key = decodeURIComponent(part.slice(0, eq));
                const raw = decodeURIComponent(part.slice(eq + 1));
                try {
                    out[key] = JSON.parse(raw);
                } catch (e) {
                    out[key] = raw;
                }
            }
            return out;
        }

        const fragment = parseFragment();
        const state = {
            myId: null,
            joined: false,
            moderator: false,
            ice: 'new',
            audioMuted: fragment['config.startAudioMuted'] === true,
            videoMuted: fragment['config.startVideoMuted'] === true,
            displayName: fragment['userInfo.displayName'] || '',
            email: fragment['userInfo.email'] || '',
            roster: {participants: [], locked: false, dominant: ''},
            uploadBitrate: 0,
        };

        let ws = null;
        let pc = null;
        let stream = null;

        function $(id) { return document.getElementById(id); }
        function show(id) { $(id).style.display = 'block'; }
        function hide(id) { $(id).style.display = 'none'; }
        function send(msg) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify(msg));
            }
        }
        function setStatus(text) { $('status').textContent = text; }

        function applyMute() {
            if (stream) {
                stream.getAudioTracks().forEach(t => { t.enabled = !state.audioMuted; });
                stream.getVideoTracks().forEach(t => { t.enabled = !state.videoMuted; });
            }
            $('toggle-audio').classList.toggle('off', state.audioMuted);
            $('toggle-audio').textContent = state.audioMuted ? 'Unmute audio' : 'Mute audio';
            $('toggle-video').classList.toggle('off', state.videoMuted);
            $('toggle-video').textContent = state.videoMuted ? 'Start video' : 'Stop video';
        }

        function join(password) {
            send({
                type: 'join',
                displayName: state.displayName,
                email: state.email,
                password: password || '',
                audioMuted: state.audioMuted,
                videoMuted: state.videoMuted,
            });
        }

        async function startMedia() {
            stream = await navigator.mediaDevices.getUserMedia({audio: true, video: true});
            $('local-video').srcObject = stream;
            applyMute();

            pc = new RTCPeerConnection();
            stream.getTracks().forEach(t => pc.addTrack(t, stream));
            pc.oniceconnectionstatechange = () => { state.ice = pc.iceConnectionState; };

            const offer = await pc.createOffer();
            await pc.setLocalDescription(offer);
            await new Promise(resolve => {
                if (pc.iceGatheringState === 'complete') {
                    resolve();
                    return;
                }
                pc.onicegatheringstatechange = () => {
                    if (pc.iceGatheringState === 'complete') {
                        resolve();
                    }
                };
            });

            const response = await fetch('/offer/' + encodeURIComponent(room) + '/' + state.myId, {
                method: 'POST',
                headers: {'Content-Type': 'application/json'},
                body: JSON.stringify(pc.localDescription),
            });
            if (!response.ok) {
                throw new Error('offer rejected: ' + response.status);
            }
            await pc.setRemoteDescription(await response.json());
        }

        function renderRoster() {
            const tiles = $('tiles');
            const seen = new Set();
            for (const p of state.roster.participants) {
                const id = 'participant-' + p.id;
                seen.add(id);
                let tile = $(id);
                if (!tile) {
                    tile = document.createElement('div');
                    tile.id = id;
                    tile.className = 'tile';
                    tile.innerHTML = '<img class="avatar"><div class="display-name"></div>';
                    tiles.appendChild(tile);
                }
                tile.dataset.audioMuted = String(p.audioMuted);
                tile.dataset.videoMuted = String(p.videoMuted);
                tile.dataset.ice = p.ice;
                tile.dataset.moderator = String(p.moderator);
                tile.dataset.local = String(p.id === state.myId);
                tile.dataset.dominant = String(p.id === state.roster.dominant);
                tile.classList.toggle('dominant', p.id === state.roster.dominant);
                tile.querySelector('.display-name').textContent = p.displayName;
                tile.querySelector('img.avatar').setAttribute('src', p.avatar);
                if (p.id === state.myId) {
                    state.moderator = p.moderator;
                }
            }
            for (const tile of Array.from(tiles.children)) {
                if (!seen.has(tile.id)) {
                    tile.remove();
                }
            }
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws/' + encodeURIComponent(room));
            ws.onopen = () => join('');
            ws.onclose = () => {
                state.joined = false;
                setStatus('disconnected');
            };
            ws.onmessage = async (ev) => {
                const msg = JSON.parse(ev.data);
                switch (msg.type) {
                case 'joined':
                    state.myId = msg.id;
                    state.moderator = !!msg.moderator;
                    state.joined = true;
                    hide('password-dialog');
                    setStatus('joined');
                    try {
                        await startMedia();
                    } catch (e) {
                        console.error('media setup failed', e);
                    }
                    break;
                case 'roster':
                    state.roster = msg.roster;
                    renderRoster();
                    break;
                case 'error':
                    if (msg.reason === 'password-required') {
                        show('password-dialog');
                    } else if (msg.reason === 'conference-full') {
                        show('conference-full-dialog');
                    } else if (msg.reason === 'shutting-down') {
                        show('shutdown-dialog');
                    } else {
                        console.warn('signaling error', msg.reason);
                    }
                    break;
                case 'closed':
                    state.joined = false;
                    show('shutdown-dialog');
                    break;
                }
            };
        }

        let lastBytes = null;
        let lastTime = null;
        async function sampleBitrate() {
            if (!pc) {
                return;
            }
            const stats = await pc.getStats();
            let bytes = 0;
            stats.forEach(r => {
                if (r.type === 'outbound-rtp') {
                    bytes += r.bytesSent || 0;
                }
            });
            const now = performance.now();
            if (lastBytes !== null && now > lastTime) {
                state.uploadBitrate = Math.round((bytes - lastBytes) * 8 / (now - lastTime));
            }
            lastBytes = bytes;
            lastTime = now;
        }
        setInterval(() => { sampleBitrate().catch(() => {}); }, 1000);

        $('toggle-audio').onclick = () => {
            state.audioMuted = !state.audioMuted;
            applyMute();
            send({type: 'mute', audioMuted: state.audioMuted});
        };
        $('toggle-video').onclick = () => {
            state.videoMuted = !state.videoMuted;
            applyMute();
            send({type: 'mute', videoMuted: state.videoMuted});
        };
        $('lock-room').onclick = () => show('lock-dialog');
        $('lock-submit').onclick = () => {
            send({type: 'lock', password: $('lock-password-input').value});
            hide('lock-dialog');
        };
        $('password-submit').onclick = () => {
            hide('password-dialog');
            join($('password-input').value);
        };
        $('hangup').onclick = () => {
            send({type: 'leave'});
            if (pc) {
                pc.close();
                pc = null;
            }
            if (stream) {
                stream.getTracks().forEach(t => t.stop());
            }
            state.joined = false;
            show('left-dialog');
        };

        let profileTimer = null;
        function profileChanged() {
            state.displayName = $('display-name-input').value;
            state.email = $('email-input').value;
            clearTimeout(profileTimer);
            profileTimer = setTimeout(() => {
                send({type: 'profile', displayName: state.displayName, email: state.email});
            }, 200);
        }
        $('display-name-input').value = state.displayName;
        $('email-input').value = state.email;
        $('display-name-input').addEventListener('input', profileChanged);
        $('email-input').addEventListener('input', profileChanged);

        window.meet = {
            myId: () => state.myId,
            isJoined: () => state.joined,
            isModerator: () => state.moderator,
            isIceConnected: () => state.ice === 'connected' || state.ice === 'completed',
            uploadBitrate: () => state.uploadBitrate,
            roster: () => state.roster.participants,
            dominantSpeaker: () => state.roster.dominant,
            isLocked: () => state.roster.locked,
            audioMuted: () => state.audioMuted,
            videoMuted: () => state.videoMuted,
        };

        applyMute();
        connect();
    </script>
</body>
</html>
`
