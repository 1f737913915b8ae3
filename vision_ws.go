package main

import (
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/ComputerGear/NeuroLock-AI-Powered-Biometric-Security-Locker/images"
	"github.com/ComputerGear/NeuroLock-AI-Powered-Biometric-Security-Locker/models"
	"github.com/ComputerGear/NeuroLock-AI-Powered-Biometric-Security-Locker/vision"
)

const (
	VisionTaskRegister = "register"
	VisionTaskVerify   = "verify"

	// the session is cut off when liveness has not passed by this point
	maxSessionFrames = 120
)

var visionUpgrader = websocket.Upgrader{
	ReadBufferSize:  1 << 20,
	WriteBufferSize: 4096,
	// the browser client connects from a different origin than the API
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleVisionSocket streams one verdict per received frame. The register
// task only gates liveness; the verify task additionally matches the
// sharpest frame against enrolled users and triggers the unlock OTP.
func handleVisionSocket(state *ServerState, w http.ResponseWriter, r *http.Request) {
	task := mux.Vars(r)["task"]
	if task != VisionTaskRegister && task != VisionTaskVerify {
		respondWithErr(w, http.StatusBadRequest, "unknown vision task", "vision socket with bad task", fmt.Errorf("task: %q", task))
		return
	}

	conn, err := visionUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("vision socket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	slog.Info("Vision session started", "task", task, "remote", r.RemoteAddr)
	detector := vision.NewDetector(state.visionConfig)

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			slog.Debug("vision socket closed by peer", "error", err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		frame, err := images.DecodeFrame(string(payload))
		if err != nil {
			verdict := models.Verdict{
				Label:      models.VerdictUncertain,
				Confidence: 0,
				Status:     "could not decode frame",
			}
			if err := conn.WriteJSON(verdict); err != nil {
				return
			}
			continue
		}

		verdict := detector.AnalyzeFrame(frame)
		if err := conn.WriteJSON(verdict); err != nil {
			slog.Debug("vision socket write failed", "error", err)
			return
		}

		if detector.Passed() {
			finishVisionSession(state, conn, task, detector)
			return
		}
		if detector.FrameCount() >= maxSessionFrames {
			confidence, reasons := detector.Summary()
			slog.Info("Vision session failed", "task", task, "confidence", confidence, "reasons", reasons)
			closeSocket(conn, websocket.ClosePolicyViolation, "liveness check failed")
			return
		}
	}
}

func finishVisionSession(state *ServerState, conn *websocket.Conn, task string, detector *vision.Detector) {
	confidence, reasons := detector.Summary()
	slog.Info("Liveness gate passed", "task", task, "confidence", confidence, "reasons", reasons)

	if task == VisionTaskRegister {
		closeSocket(conn, websocket.CloseNormalClosure, "liveness confirmed")
		return
	}

	user, err := matchEnrolledUser(state, detector.BestFrame())
	if err != nil {
		slog.Warn("face match failed", "error", err)
		closeSocket(conn, websocket.ClosePolicyViolation, "face not recognized")
		return
	}

	code, err := generateOtpCode()
	if err != nil {
		slog.Error("failed to generate unlock otp", "error", err)
		closeSocket(conn, websocket.CloseInternalServerErr, "internal error")
		return
	}
	if err := state.otps.StoreCode(user.PhoneNumber, code); err != nil {
		slog.Error("failed to store unlock otp", "error", err)
		closeSocket(conn, websocket.CloseInternalServerErr, "internal error")
		return
	}
	if err := state.sms.SendSms(user.PhoneNumber, "Your NeuroLock unlock code is: "+code); err != nil {
		slog.Error("failed to send unlock otp", "user_id", user.Id, "error", err)
		closeSocket(conn, websocket.CloseInternalServerErr, "internal error")
		return
	}

	slog.Info("Unlock OTP sent after face match", "user_id", user.Id)
	closeSocket(conn, websocket.CloseNormalClosure, "face verified")
}

// matchEnrolledUser compares the captured frame against every active
// user's enrollment photo and returns the best match over the threshold.
func matchEnrolledUser(state *ServerState, best image.Image) (*UserRecord, error) {
	if best == nil {
		return nil, fmt.Errorf("no face-bearing frame captured")
	}
	if state.faceClient == nil {
		return nil, fmt.Errorf("face matching is not configured")
	}

	captured, err := images.EncodeFrame(best)
	if err != nil {
		return nil, fmt.Errorf("encode captured frame: %w", err)
	}

	active, err := state.users.ListByStatus(models.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}

	var matched *UserRecord
	var bestSimilarity float64
	for _, user := range active {
		if user.FaceImage == "" {
			continue
		}
		result, err := state.faceClient.MatchFaces(user.FaceImage, captured)
		if err != nil {
			slog.Warn("face comparison errored", "user_id", user.Id, "error", err)
			continue
		}
		if result.Matched && result.Similarity > bestSimilarity {
			matched = user
			bestSimilarity = result.Similarity
		}
	}
	if matched == nil {
		return nil, fmt.Errorf("no enrolled user matched")
	}
	return matched, nil
}

func closeSocket(conn *websocket.Conn, code int, reason string) {
	message := websocket.FormatCloseMessage(code, reason)
	deadline := time.Now().Add(time.Second)
	if err := conn.WriteControl(websocket.CloseMessage, message, deadline); err != nil {
		slog.Debug("failed to write close frame", "error", err)
	}
}
