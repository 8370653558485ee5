package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/iwtcode/rigAdapter/internal/tui"
	"github.com/iwtcode/rigAdapter/middleware"
	"github.com/iwtcode/rigAdapter/models"
	apperrors "github.com/iwtcode/rigAdapter/pkg/errors"
)

func (a *App) flags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(a.out)
	return fs
}

// latestStatus - почтовый ящик на один снимок: новый снимок вытесняет
// неотрисованный, поэтому экран всегда догоняет последний статус.
type latestStatus struct {
	ch chan models.DeviceStatus
}

func newLatestStatus() *latestStatus {
	return &latestStatus{ch: make(chan models.DeviceStatus, 1)}
}

// put вызывается только из горутины опросчика.
func (l *latestStatus) put(s models.DeviceStatus) {
	for {
		select {
		case l.ch <- s:
			return
		default:
		}
		select {
		case <-l.ch:
		default:
		}
	}
}

func (l *latestStatus) updates() <-chan models.DeviceStatus {
	return l.ch
}

// withLiveStatus выполняет work, пока опросчик статуса рисует снимки на экране.
func (a *App) withLiveStatus(ctx context.Context, work func(context.Context) error) error {
	latest := newLatestStatus()
	a.client.OnStatus(latest.put)
	defer a.client.OnStatus(nil)

	g, gctx := errgroup.WithContext(ctx)
	a.client.SetLive(gctx, true)
	defer a.client.SetLive(ctx, false)

	workDone := make(chan struct{})
	g.Go(func() error {
		for {
			select {
			case s := <-latest.updates():
				a.draw(s)
			case <-workDone:
				select {
				case s := <-latest.updates():
					a.draw(s)
				default:
				}
				return nil
			case <-gctx.Done():
				return nil
			}
		}
	})
	g.Go(func() error {
		defer close(workDone)
		return work(gctx)
	})
	return g.Wait()
}

func (a *App) printStatus(s models.DeviceStatus) {
	if tui.IsTerminal(a.out) {
		a.printf("%s\n", tui.RenderStatus(s))
		return
	}
	a.printf("%s\n", tui.PlainStatus(s))
}

func (a *App) runStatus(ctx context.Context, args []string) error {
	fs := a.flags("status")
	watch := fs.Bool("watch", false, "poll status until interrupted")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *watch {
		return a.withLiveStatus(ctx, func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		})
	}

	status, err := a.client.ReadStatus(ctx)
	if err != nil {
		return err
	}
	a.printStatus(status)
	return nil
}

func (a *App) runHost(ctx context.Context, args []string) error {
	if len(args) == 0 {
		a.printf("%s\n", a.client.Host())
		return nil
	}
	host := middleware.NormalizeHost(args[0])
	if err := a.client.Settings().SetHost(ctx, host); err != nil {
		return fmt.Errorf("failed to save host: %w", err)
	}
	a.printf("Middleware host set to %s, used from the next start\n", host)
	return nil
}

func (a *App) runSchema(ctx context.Context, args []string) error {
	schema, err := a.client.Schema(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", apperrors.SchemaUnavailable, err)
	}
	if len(args) == 0 {
		for _, path := range schema.PostPaths() {
			a.printf("%s\n", path)
		}
		return nil
	}

	form, err := a.client.Form(ctx, args[0])
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(form.Descriptors()))
	for _, d := range form.Descriptors() {
		kind := string(d.Kind)
		if len(d.Enum) > 0 {
			kind += " (" + strings.Join(d.Enum, "|") + ")"
		}
		def := ""
		if d.Default != nil {
			def = models.FormatValue(d.Default)
		}
		required := ""
		if d.Required {
			required = "yes"
		}
		rows = append(rows, []string{d.Name, kind, required, def, d.Description})
	}
	a.printf("%s", tui.Table([]string{"NAME", "TYPE", "REQUIRED", "DEFAULT", "DESCRIPTION"}, rows))
	return nil
}

// formParams накладывает аргументы key=value на сохраненные или схемные значения формы.
func (a *App) formParams(ctx context.Context, path string, args []string) (*models.Params, error) {
	var descriptors middleware.Descriptors
	params := models.NewParams()
	if form, err := a.client.Form(ctx, path); err == nil {
		descriptors = form.Descriptors()
		if defaults, err := a.client.FormDefaults(ctx, path); err == nil {
			params = defaults.Clone()
		}
	} else if path != middleware.SingleCardPath {
		return nil, err
	} else if saved, ok := a.client.Settings().FormParams(ctx, path); ok {
		params = saved
	}

	overrides, err := descriptors.ParseArgs(args)
	if err != nil {
		return nil, err
	}
	for _, key := range overrides.Keys() {
		v, _ := overrides.Get(key)
		params.Set(key, v)
	}
	return params, nil
}

func (a *App) runCommand(ctx context.Context, args []string) error {
	fs := a.flags("command")
	outDir := fs.String("out", "", "directory for binary results")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("usage: %s", usages["command"])
	}
	path := fs.Arg(0)

	params, err := a.formParams(ctx, path, fs.Args()[1:])
	if err != nil {
		return err
	}
	reply, err := a.client.SubmitForm(ctx, path, params)
	if err != nil {
		return err
	}
	if !reply.Pending() {
		return a.emit(reply.Artifact, *outDir, "reply")
	}

	for i, id := range reply.Futures {
		if middleware.Streamed(path) {
			if err := a.streamFuture(ctx, id, *outDir, i); err != nil {
				return err
			}
			continue
		}
		art, err := a.client.ResolveFor(ctx, path, id)
		if err != nil {
			return err
		}
		if err := a.emit(art, *outDir, fmt.Sprintf("future_%d", i)); err != nil {
			return err
		}
	}
	return nil
}

// streamFuture выводит изображения потокового future по мере поступления.
func (a *App) streamFuture(ctx context.Context, id models.FutureID, dir string, n int) error {
	var saveErr error
	count, err := a.client.Stream(ctx, id, func(art models.Artifact) {
		if saveErr == nil {
			saveErr = a.emit(art, dir, fmt.Sprintf("stream_%d_%02d", n, art.Index+1))
		}
	})
	if err != nil {
		return err
	}
	if saveErr != nil {
		return saveErr
	}
	a.printf("Stream %d finished: %d images\n", id, count)
	return nil
}

func (a *App) runSingleCard(ctx context.Context, args []string) error {
	fs := a.flags("single-card")
	outDir := fs.String("out", "", "directory for acquired images")
	watch := fs.Bool("watch", false, "show live status while imaging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	params, err := a.formParams(ctx, middleware.SingleCardPath, fs.Args())
	if err != nil {
		return err
	}

	run := func(ctx context.Context) error {
		images := 0
		result, err := a.client.SingleCard(ctx, params, func(art models.Artifact) {
			images++
			if err := a.emit(art, *outDir, fmt.Sprintf("image_%02d", images)); err != nil {
				a.logger.WithError(err).Warn("Failed to save image")
			}
		})
		if err != nil {
			return err
		}
		if err := a.client.Settings().SetFormParams(ctx, middleware.SingleCardPath, params); err != nil {
			a.logger.WithError(err).Warn("Failed to remember single card parameters")
		}
		a.printf("Card %s acquired: %d images in %s\n", result.Identity.CardID, len(result.Images), result.Identity.Subdir)
		return nil
	}

	if *watch {
		return a.withLiveStatus(ctx, run)
	}
	return run(ctx)
}

func (a *App) runAcquire(ctx context.Context, args []string) error {
	fs := a.flags("acquire")
	scale := fs.Float64("scale", 0, "image scale, 0 keeps the server default")
	out := fs.String("out", "", "file to save the image to")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: %s", usages["acquire"])
	}
	camera, err := cameraArg(fs.Arg(0))
	if err != nil {
		return err
	}

	art, err := a.client.Acquire(ctx, camera, *scale)
	if err != nil {
		return err
	}
	if *out == "" {
		a.printf("%s image: %d bytes (%s)\n", camera, len(art.Body), art.ContentType)
		return nil
	}
	if err := writeFile(*out, art.Body); err != nil {
		return err
	}
	a.printf("Saved %s\n", *out)
	return nil
}

func (a *App) runPreview(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s", usages["preview"])
	}
	camera, err := cameraArg(args[0])
	if err != nil {
		return err
	}
	if err := a.client.TogglePreview(ctx, camera); err != nil {
		return err
	}
	status, err := a.client.ReadStatus(ctx)
	if err != nil {
		return err
	}
	a.printStatus(status)
	return nil
}

func (a *App) runMove(ctx context.Context, args []string) error {
	// Отрицательный шаг разбирается до флагов, иначе pflag примет его за флаг
	var steps []string
	if len(args) > 0 {
		if _, err := strconv.Atoi(args[0]); err == nil {
			steps, args = args[:1], args[1:]
		}
	}

	fs := a.flags("move")
	size := fs.String("size", middleware.StepQuarter, "step size: FULL, HALF, QUARTER or EIGHTH")
	if err := fs.Parse(args); err != nil {
		return err
	}
	steps = append(steps, fs.Args()...)
	if len(steps) != 1 {
		return fmt.Errorf("usage: %s", usages["move"])
	}
	n, err := strconv.Atoi(steps[0])
	if err != nil {
		return fmt.Errorf("invalid step count %q: %w", steps[0], err)
	}

	text, err := a.client.MoveRelative(ctx, n, strings.ToUpper(*size))
	if err != nil {
		return err
	}
	a.printf("%s\n", text)
	return nil
}

func (a *App) runLight(ctx context.Context, args []string) error {
	fs := a.flags("light")
	pwm := fs.Float64("pwm", middleware.RingLightOnPWM, "duty cycle 0..1, toggles when omitted")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.Changed("pwm") {
		if err := a.client.SetRingLight(ctx, *pwm); err != nil {
			return err
		}
	} else if err := a.client.ToggleRingLight(ctx); err != nil {
		return err
	}

	status, err := a.client.ReadStatus(ctx)
	if err != nil {
		return err
	}
	a.printf("Ring light: %s\n", onOff(status.Led))
	return nil
}

func (a *App) runMounts(ctx context.Context, args []string) error {
	fs := a.flags("mounts")
	mountPoint := fs.String("mount-point", "", "mount point prefix filter")
	fsType := fs.String("fs-type", "", "filesystem type filter")
	sel := fs.String("select", "", "mount point to make active")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store := a.client.Settings()
	selector := a.client.Mounts()
	var err error
	if fs.Changed("mount-point") || fs.Changed("fs-type") {
		mp, fsFilter := store.MountPointFilter(ctx), store.FsTypeFilter(ctx)
		if fs.Changed("mount-point") {
			mp = *mountPoint
		}
		if fs.Changed("fs-type") {
			fsFilter = *fsType
		}
		_, err = selector.SetFilters(ctx, mp, fsFilter)
	} else {
		_, err = selector.Refresh(ctx)
	}
	if err != nil {
		return err
	}

	if *sel != "" {
		if _, err := selector.Select(ctx, *sel); err != nil {
			return err
		}
	}
	a.printMounts()
	return nil
}

func (a *App) printMounts() {
	mounts := a.client.Mounts().Mounts()
	if len(mounts) == 0 {
		a.printf("No storage devices mounted\n")
		return
	}
	active, _ := a.client.Mounts().Active()
	rows := make([][]string, 0, len(mounts))
	for _, m := range mounts {
		mark := ""
		if m.Mountpoint == active.Mountpoint {
			mark = "*"
		}
		rows = append(rows, []string{mark, m.Mountpoint, m.Device, m.FsType})
	}
	a.printf("%s", tui.Table([]string{"", "MOUNTPOINT", "DEVICE", "FSTYPE"}, rows))
}

func (a *App) runUnmount(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s", usages["unmount"])
	}
	if _, err := a.client.Mounts().Refresh(ctx); err != nil {
		return err
	}
	if _, err := a.client.Mounts().Unmount(ctx, args[0]); err != nil {
		return err
	}
	a.printf("Unmounted %s\n", args[0])
	a.printMounts()
	return nil
}

func (a *App) runCards(ctx context.Context, _ []string) error {
	cards, err := a.client.RefreshCards(ctx)
	if err != nil {
		return err
	}
	if len(cards) == 0 {
		a.printf("No cards in %s\n", a.client.Cards().Path())
		return nil
	}
	rows := make([][]string, 0, len(cards))
	for _, c := range cards {
		rows = append(rows, []string{
			string(c.CardID),
			strconv.Itoa(c.NumImages),
			c.AcquisitionTime.Local().Format("2006-01-02 15:04:05"),
			c.SubdirPath,
			c.ImageFormat,
		})
	}
	a.printf("%s", tui.Table([]string{"CARD", "IMAGES", "ACQUIRED", "SUBDIR", "FORMAT"}, rows))
	return nil
}

func (a *App) runRename(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: %s", usages["rename"])
	}
	if _, err := a.client.RefreshCards(ctx); err != nil {
		return err
	}
	if err := a.client.Cards().Rename(ctx, args[0], args[1]); err != nil {
		return err
	}
	a.printf("Card in %s renamed to %s\n", args[0], args[1])
	return nil
}

func (a *App) runDelete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s", usages["delete"])
	}
	if _, err := a.client.RefreshCards(ctx); err != nil {
		return err
	}
	if err := a.client.Cards().Delete(ctx, args[0]); err != nil {
		return err
	}
	a.printf("Card in %s deleted\n", args[0])
	return nil
}

// emit печатает текстовый результат или сохраняет двоичный в dir.
func (a *App) emit(art models.Artifact, dir, name string) error {
	if art.Kind != models.ArtifactImage {
		a.printf("%s\n", art.Text())
		return nil
	}
	if dir == "" {
		a.printf("Image: %d bytes (%s)\n", len(art.Body), art.ContentType)
		return nil
	}
	path := filepath.Join(dir, name+extension(art.ContentType))
	if err := writeFile(path, art.Body); err != nil {
		return err
	}
	a.printf("Saved %s\n", path)
	return nil
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func extension(contentType string) string {
	mediaType, _, _ := strings.Cut(contentType, ";")
	switch strings.TrimSpace(mediaType) {
	case "image/png":
		return ".png"
	case "image/tiff":
		return ".tiff"
	case "image/jpeg":
		return ".jpg"
	case "application/json":
		return ".json"
	default:
		return ".bin"
	}
}

func cameraArg(name string) (string, error) {
	switch strings.ToLower(name) {
	case middleware.CameraHQ:
		return middleware.CameraHQ, nil
	case middleware.CameraAux:
		return middleware.CameraAux, nil
	default:
		return "", errors.New("camera must be hq or aux")
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
