package simulator

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/schema"
	"github.com/sirupsen/logrus"

	"github.com/iwtcode/rigAdapter/internal/middleware/logging"
	"github.com/iwtcode/rigAdapter/models"
)

// Future описывает сценарий одного отложенного результата.
type Future struct {
	Pending     int      // Сколько раз ответить 204 перед результатом
	Drops       int      // Сколько раз оборвать соединение перед результатом
	Failures    int      // Сколько раз ответить 500 перед результатом
	Status      int      // Конечный статус, 0 означает 200
	ContentType string   // По умолчанию text/plain
	Body        []byte   // Тело конечного ответа
	Stream      [][]byte // Для /sfuture: элементы потока, после них 204. Failures отвечают 500 до первого элемента
}

type futureState struct {
	script Future
	polls  int
	next   int
}

type failure struct {
	status int
	body   string
}

// Server - сценарный двойник сервиса Middleware.
type Server struct {
	router  *mux.Router
	decoder *schema.Decoder
	logger  logrus.FieldLogger

	mu       sync.Mutex
	status   models.DeviceStatus
	futures  map[models.FutureID]*futureState
	nextID   models.FutureID
	mounts   []models.Mount
	cards    map[string][]models.SensorCard
	failures map[string]failure
	hits     map[string]int
	requests []string
	image    []byte
	pwm      float64
	cardSeq  int
	textID   bool
}

// Option настраивает Server.
type Option func(*Server)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMounts задает начальный список смонтированных носителей.
func WithMounts(mounts ...models.Mount) Option {
	return func(s *Server) {
		s.mounts = append([]models.Mount(nil), mounts...)
	}
}

// WithTextCardID добавляет к съемке карты future с текстовым идентификатором
// перед JSON с идентификатором и каталогом.
func WithTextCardID() Option {
	return func(s *Server) {
		s.textID = true
	}
}

// New создает симулятор с пустым стендом: стол в нуле, подсветка выключена.
func New(opts ...Option) *Server {
	s := &Server{
		decoder:  schema.NewDecoder(),
		logger:   logging.Discard(),
		futures:  make(map[models.FutureID]*futureState),
		nextID:   1,
		cards:    make(map[string][]models.SensorCard),
		failures: make(map[string]failure),
		hits:     make(map[string]int),
		image:    fakePNG,
	}
	s.decoder.IgnoreUnknownKeys(true)
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.WithPrefix(s.logger, "SIMULATOR")
	s.router = s.routes()
	return s
}

// Handler возвращает HTTP обработчик симулятора.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.record)

	r.HandleFunc("/openapi.json", s.handleSchema).Methods(http.MethodGet)
	r.HandleFunc("/system/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/stage/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/future/{id:[0-9]+}", s.handleFuture).Methods(http.MethodGet)
	r.HandleFunc("/sfuture/{id:[0-9]+}", s.handleStream).Methods(http.MethodGet)

	r.HandleFunc("/stage/relative", s.handleRelative).Methods(http.MethodPost)
	r.HandleFunc("/stage/absolute", s.handleAbsolute).Methods(http.MethodPost)
	r.HandleFunc("/stage/speed", s.handleSpeed).Methods(http.MethodPost)
	r.HandleFunc("/stage/led_pwm", s.handleLedPWM).Methods(http.MethodPost)
	r.HandleFunc("/system/single_card", s.handleSingleCard).Methods(http.MethodPost)
	r.HandleFunc("/system/debug_align", s.handleDebugAlign).Methods(http.MethodPost)

	r.HandleFunc("/linux/mounts", s.handleMounts).Methods(http.MethodPost)
	r.HandleFunc("/linux/unmount", s.handleUnmount).Methods(http.MethodPost)
	r.HandleFunc("/system/cards", s.handleCards).Methods(http.MethodGet)
	r.HandleFunc("/system/rename", s.handleRename).Methods(http.MethodPost)
	r.HandleFunc("/system/delete", s.handleDelete).Methods(http.MethodPost)

	r.HandleFunc("/cam/acquire/{camera}", s.handleAcquire).Methods(http.MethodGet)
	r.HandleFunc("/cam/preview/{action:start|stop}/{camera}", s.handlePreview).Methods(http.MethodGet)
	return r
}

// record считает запросы и подменяет ответ, если для пути задан отказ.
func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		line := r.Method + " " + r.URL.Path
		if r.URL.RawQuery != "" {
			line += "?" + r.URL.RawQuery
		}
		s.requests = append(s.requests, line)
		f, failing := s.failures[r.URL.Path]
		s.mu.Unlock()

		s.logger.WithField("request", line).Debug("Request received")
		if failing {
			writeText(w, f.status, f.body)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Fail заставляет путь отвечать заданным статусом и телом.
func (s *Server) Fail(path string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = failure{status: status, body: body}
}

// Recover снимает отказ, заданный Fail.
func (s *Server) Recover(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, path)
}

// Hits возвращает число запросов к пути.
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// Requests возвращает журнал запросов в порядке поступления.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

func (s *Server) SetStatus(status models.DeviceStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// UpdateStatus меняет статус под блокировкой.
func (s *Server) UpdateStatus(fn func(*models.DeviceStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.status)
}

func (s *Server) Status() models.DeviceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// AddFuture регистрирует future и возвращает его идентификатор.
func (s *Server) AddFuture(f Future) models.FutureID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addFutureLocked(f)
}

// AddFutureWithID регистрирует future под заданным идентификатором.
func (s *Server) AddFutureWithID(id models.FutureID, f Future) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.futures[id] = &futureState{script: f}
	if id >= s.nextID {
		s.nextID = id + 1
	}
}

func (s *Server) addFutureLocked(f Future) models.FutureID {
	id := s.nextID
	s.nextID++
	s.futures[id] = &futureState{script: f}
	return id
}

// Polls возвращает число опросов future.
func (s *Server) Polls(id models.FutureID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.futures[id]; ok {
		return st.polls
	}
	return 0
}

func (s *Server) SetMounts(mounts ...models.Mount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mounts = append([]models.Mount(nil), mounts...)
}

// SetCards задает список карт в каталоге path.
func (s *Server) SetCards(path string, cards ...models.SensorCard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards[path] = append([]models.SensorCard(nil), cards...)
}

func (s *Server) Cards(path string) []models.SensorCard {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.SensorCard(nil), s.cards[path]...)
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(openAPIDocument))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Status())
}

func (s *Server) handleFuture(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)

	s.mu.Lock()
	st, ok := s.futures[models.FutureID(id)]
	if !ok {
		s.mu.Unlock()
		writeText(w, http.StatusNotFound, fmt.Sprintf("future %d not found", id))
		return
	}
	st.polls++
	polls := st.polls
	script := st.script
	s.mu.Unlock()

	switch {
	case polls <= script.Drops:
		hangUp(w)
		return
	case polls <= script.Drops+script.Failures:
		writeText(w, http.StatusInternalServerError, "Internal Server Error")
		return
	case polls <= script.Drops+script.Failures+script.Pending:
		w.WriteHeader(http.StatusNoContent)
		return
	}

	status := script.Status
	if status == 0 {
		status = http.StatusOK
	}
	contentType := script.ContentType
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write(script.Body)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)

	s.mu.Lock()
	st, ok := s.futures[models.FutureID(id)]
	if !ok {
		s.mu.Unlock()
		writeText(w, http.StatusNotFound, fmt.Sprintf("future %d not found", id))
		return
	}
	if st.script.Stream == nil {
		s.mu.Unlock()
		s.handleFuture(w, r)
		return
	}
	st.polls++
	if st.polls <= st.script.Failures {
		s.mu.Unlock()
		writeText(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if st.next >= len(st.script.Stream) {
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
		return
	}
	item := st.script.Stream[st.next]
	st.next++
	contentType := st.script.ContentType
	s.mu.Unlock()

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(item)
}

type moveRequest struct {
	N            int    `schema:"n,required"`
	Size         string `schema:"size"`
	IgnoreLimits bool   `schema:"ignore_limits"`
}

var stepScale = map[string]int{"FULL": 8, "HALF": 4, "QUARTER": 2, "EIGHTH": 1}

func (s *Server) decodeMove(w http.ResponseWriter, r *http.Request) (moveRequest, int, bool) {
	req := moveRequest{Size: "QUARTER"}
	if err := s.decoder.Decode(&req, r.URL.Query()); err != nil {
		writeText(w, http.StatusUnprocessableEntity, "invalid parameter")
		return req, 0, false
	}
	scale, ok := stepScale[req.Size]
	if !ok {
		writeText(w, http.StatusUnprocessableEntity, "invalid parameter")
		return req, 0, false
	}
	return req, scale, true
}

func (s *Server) handleRelative(w http.ResponseWriter, r *http.Request) {
	req, scale, ok := s.decodeMove(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	if s.status.Estop {
		s.mu.Unlock()
		writeText(w, http.StatusConflict, "emergency stop engaged")
		return
	}
	s.status.Position += req.N * scale
	s.status.Limit1 = s.status.Position <= 0
	pos := s.status.Position
	s.mu.Unlock()
	writeText(w, http.StatusOK, fmt.Sprintf("moved %d %s, position %d", req.N, req.Size, pos))
}

func (s *Server) handleAbsolute(w http.ResponseWriter, r *http.Request) {
	req, scale, ok := s.decodeMove(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	s.status.Position = req.N * scale
	s.status.Limit1 = s.status.Position <= 0
	pos := s.status.Position
	s.mu.Unlock()
	writeText(w, http.StatusOK, fmt.Sprintf("position %d", pos))
}

type speedRequest struct {
	Hz int `schema:"hz,required"`
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	var req speedRequest
	if err := s.decoder.Decode(&req, r.URL.Query()); err != nil || req.Hz <= 0 {
		writeText(w, http.StatusUnprocessableEntity, "invalid parameter")
		return
	}
	writeText(w, http.StatusOK, fmt.Sprintf("speed %d", req.Hz))
}

type pwmRequest struct {
	PWM float64 `schema:"pwm,required"`
}

func (s *Server) handleLedPWM(w http.ResponseWriter, r *http.Request) {
	var req pwmRequest
	if err := s.decoder.Decode(&req, r.URL.Query()); err != nil || req.PWM < 0 || req.PWM > 1 {
		writeText(w, http.StatusUnprocessableEntity, "invalid parameter")
		return
	}
	s.mu.Lock()
	s.pwm = req.PWM
	s.status.Led = req.PWM > 0
	s.mu.Unlock()
	writeText(w, http.StatusOK, "OK")
}

// PWM возвращает последнюю заданную скважность подсветки.
func (s *Server) PWM() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pwm
}

type singleCardRequest struct {
	Encoding string  `schema:"encoding"`
	Delay    float64 `schema:"delay"`
	Speed    int     `schema:"speed"`
	Images   int     `schema:"images"`
	Path     string  `schema:"path"`
}

// handleSingleCard заводит по future на каждое изображение и один
// завершающий future с идентификатором карты.
func (s *Server) handleSingleCard(w http.ResponseWriter, r *http.Request) {
	req := singleCardRequest{Encoding: "tiff", Images: 3}
	if err := s.decoder.Decode(&req, r.URL.Query()); err != nil || req.Images < 0 {
		writeText(w, http.StatusUnprocessableEntity, "invalid parameter")
		return
	}

	s.mu.Lock()
	if s.status.Running {
		s.mu.Unlock()
		writeText(w, http.StatusConflict, "imaging already running")
		return
	}
	s.cardSeq++
	cardID := strconv.Itoa(1000 + s.cardSeq)
	subdir := uuid.NewString()[:8]

	ids := make([]models.FutureID, 0, req.Images+2)
	for i := 0; i < req.Images; i++ {
		ids = append(ids, s.addFutureLocked(Future{
			Pending:     1,
			ContentType: imageContentType(req.Encoding),
			Body:        s.image,
		}))
	}
	if s.textID {
		ids = append(ids, s.addFutureLocked(Future{Body: []byte("SN-" + cardID)}))
	}
	identity, _ := json.Marshal(map[string]string{"card_id": cardID, "subdir": subdir})
	ids = append(ids, s.addFutureLocked(Future{ContentType: "application/json", Body: identity}))

	if req.Path != "" {
		s.cards[req.Path] = append(s.cards[req.Path], models.SensorCard{
			CardID:          models.CardID(cardID),
			NumImages:       req.Images,
			AcquisitionTime: models.NewTimestamp(time.Now().UTC().Truncate(time.Second)),
			SubdirPath:      subdir,
			ImageFormat:     req.Encoding,
		})
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, ids)
}

type alignRequest struct {
	CoarseN    int     `schema:"coarse_n"`
	CoarseSize string  `schema:"coarse_size"`
	StepDelay  float64 `schema:"step_delay"`
	Debug      bool    `schema:"debug"`
}

// alignDebugFrames - сколько промежуточных кадров отдает выравнивание в режиме отладки.
const alignDebugFrames = 2

// handleDebugAlign выравнивает карту и отдает кадры одним потоковым future:
// промежуточные кадры в режиме отладки, затем итоговый снимок.
func (s *Server) handleDebugAlign(w http.ResponseWriter, r *http.Request) {
	req := alignRequest{CoarseN: 400, CoarseSize: "QUARTER"}
	if err := s.decoder.Decode(&req, r.URL.Query()); err != nil {
		writeText(w, http.StatusUnprocessableEntity, "invalid parameter")
		return
	}
	if _, ok := stepScale[req.CoarseSize]; !ok {
		writeText(w, http.StatusUnprocessableEntity, "invalid parameter")
		return
	}

	s.mu.Lock()
	if s.status.Running {
		s.mu.Unlock()
		writeText(w, http.StatusConflict, "imaging already running")
		return
	}
	frames := 1
	if req.Debug {
		frames += alignDebugFrames
	}
	stream := make([][]byte, frames)
	for i := range stream {
		stream[i] = s.image
	}
	id := s.addFutureLocked(Future{ContentType: "image/png", Stream: stream})
	s.status.Position = 0
	s.status.Calibrated = true
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, id)
}

type mountsRequest struct {
	MountPointFilter string `schema:"mount_point_filter"`
	FsTypeFilter     string `schema:"fs_type_filter"`
}

func (s *Server) handleMounts(w http.ResponseWriter, r *http.Request) {
	var req mountsRequest
	if err := s.decoder.Decode(&req, r.URL.Query()); err != nil {
		writeText(w, http.StatusUnprocessableEntity, "invalid parameter")
		return
	}

	s.mu.Lock()
	out := make([]models.Mount, 0, len(s.mounts))
	for _, m := range s.mounts {
		if req.MountPointFilter != "" && !strings.HasPrefix(m.Mountpoint, req.MountPointFilter) {
			continue
		}
		if req.FsTypeFilter != "" && m.FsType != req.FsTypeFilter {
			continue
		}
		out = append(out, m)
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, out)
}

type unmountRequest struct {
	Mountpoint string `schema:"mountpoint,required"`
}

func (s *Server) handleUnmount(w http.ResponseWriter, r *http.Request) {
	var req unmountRequest
	if err := s.decoder.Decode(&req, r.URL.Query()); err != nil {
		writeText(w, http.StatusUnprocessableEntity, "invalid parameter")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.mounts {
		if m.Mountpoint == req.Mountpoint {
			s.mounts = append(s.mounts[:i], s.mounts[i+1:]...)
			writeText(w, http.StatusOK, "unmounted "+req.Mountpoint)
			return
		}
	}
	writeText(w, http.StatusNotFound, "not mounted: "+req.Mountpoint)
}

type cardsRequest struct {
	Path string `schema:"path"`
}

func (s *Server) handleCards(w http.ResponseWriter, r *http.Request) {
	var req cardsRequest
	if err := s.decoder.Decode(&req, r.URL.Query()); err != nil || req.Path == "" {
		writeText(w, http.StatusUnprocessableEntity, "path is required")
		return
	}

	cards := s.Cards(req.Path)
	sort.SliceStable(cards, func(i, j int) bool {
		return cards[i].AcquisitionTime.Before(cards[j].AcquisitionTime.Time)
	})
	writeJSON(w, http.StatusOK, cards)
}

type renameRequest struct {
	ToID   string `schema:"to_id,required"`
	Subdir string `schema:"subdir,required"`
	Path   string `schema:"path,required"`
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := s.decoder.Decode(&req, r.URL.Query()); err != nil {
		writeText(w, http.StatusUnprocessableEntity, "invalid parameter")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.cards[req.Path] {
		if c.SubdirPath == req.Subdir {
			s.cards[req.Path][i].CardID = models.CardID(req.ToID)
			writeText(w, http.StatusOK, "OK")
			return
		}
	}
	writeText(w, http.StatusNotFound, "card not found: "+req.Subdir)
}

type deleteRequest struct {
	Subdir string `schema:"subdir,required"`
	Path   string `schema:"path,required"`
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := s.decoder.Decode(&req, r.URL.Query()); err != nil {
		writeText(w, http.StatusUnprocessableEntity, "invalid parameter")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cards := s.cards[req.Path]
	for i, c := range cards {
		if c.SubdirPath == req.Subdir {
			s.cards[req.Path] = append(cards[:i], cards[i+1:]...)
			writeText(w, http.StatusOK, "OK")
			return
		}
	}
	writeText(w, http.StatusNotFound, "card not found: "+req.Subdir)
}

func (s *Server) handleAcquire(w http.ResponseWriter, r *http.Request) {
	camera := mux.Vars(r)["camera"]
	if camera != "hq" && camera != "aux" {
		writeText(w, http.StatusUnprocessableEntity, "unknown camera: "+camera)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(s.image)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	running := vars["action"] == "start"

	s.mu.Lock()
	switch vars["camera"] {
	case "hq":
		s.status.HqPreview = running
	case "aux":
		s.status.AuxPreview = running
	default:
		s.mu.Unlock()
		writeText(w, http.StatusUnprocessableEntity, "unknown camera: "+vars["camera"])
		return
	}
	s.mu.Unlock()
	writeText(w, http.StatusOK, "OK")
}

func imageContentType(encoding string) string {
	switch encoding {
	case "png":
		return "image/png"
	case "jpeg":
		return "image/jpeg"
	case "tiff":
		return "image/tiff"
	default:
		return "application/octet-stream"
	}
}

// hangUp закрывает соединение, не отправив ответ.
func hangUp(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		writeText(w, http.StatusBadGateway, "connection dropped")
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return
	}
	_ = conn.Close()
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// fakePNG - заголовок PNG, которого достаточно, чтобы тело распознавалось как изображение.
var fakePNG = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}
