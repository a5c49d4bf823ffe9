package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/kisun-bit/volprobe/disk/filesystem/fossick"
	"github.com/kisun-bit/volprobe/disk/table"
	"github.com/kisun-bit/volprobe/disk/volumeid"
	"github.com/kisun-bit/volprobe/util/logger"
	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
)

// headerHashSize 参与头部指纹计算的字节数.
const headerHashSize = 4096

type volumeResult struct {
	Usage   string `json:"usage"`
	Type    string `json:"type,omitempty"`
	Version string `json:"version,omitempty"`
	Label   string `json:"label,omitempty"`
	UUID    string `json:"uuid,omitempty"`
}

type partitionResult struct {
	Index    int    `json:"index"`
	Offset   uint64 `json:"offset"`
	Size     uint64 `json:"size"`
	PartType string `json:"part_type"`
	volumeResult
}

type probeResult struct {
	Device     string            `json:"device"`
	Size       uint64            `json:"size"`
	DiskType   table.DiskType    `json:"disk_type"`
	Table      json.RawMessage   `json:"table,omitempty"`
	HeaderHash string            `json:"header_hash,omitempty"`
	Partitions []partitionResult `json:"partitions,omitempty"`
	Stats      volumeid.Stats    `json:"stats"`
	volumeResult

	dump string
}

func newVolumeResult(id *volumeid.VolumeID) volumeResult {
	return volumeResult{
		Usage:   id.Usage,
		Type:    id.Type,
		Version: id.TypeVersion,
		Label:   id.Label,
		UUID:    id.UUID,
	}
}

// probe 探测设备的分区表, 无分区表时探测整个设备上的文件系统, 否则逐个探测分区.
func probe(w io.Writer, path string) error {
	opts, err := cacheOptions()
	if err != nil {
		return err
	}
	id, err := volumeid.Open(path, opts...)
	if err != nil {
		return err
	}
	defer id.Close()

	res := probeResult{Device: path}
	if res.Size, err = id.Size(); err != nil {
		return err
	}
	if res.DiskType, err = table.Probe(id); err != nil {
		return errors.Wrapf(err, "failed to probe partition table of %s", path)
	}
	if err = dumpTable(id, &res); err != nil {
		return err
	}
	if res.DiskType == table.DTypeRAW {
		if _, err = fossick.Probe(id); err != nil && !errors.Is(err, fossick.ErrUnknownFilesystem) {
			return errors.Wrapf(err, "failed to probe filesystem of %s", path)
		}
	}
	hashSize := headerHashSize
	if fs := id.Config().FrontSize; fs < hashSize {
		hashSize = fs
	}
	if h, err := fossick.HeaderHash(id, hashSize); err == nil {
		res.HeaderHash = fmt.Sprintf("%016x", h)
	} else if !volumeid.IsNotApplicable(err) {
		return err
	}
	res.volumeResult = newVolumeResult(id)
	res.Stats = id.Stats()

	if len(id.Partitions) > 0 {
		if res.Partitions, err = probePartitions(path, id.Partitions, opts, flagMain.Workers); err != nil {
			return err
		}
	}

	if flagMain.JSON {
		o, err := json.MarshalIndent(res, "", "\t")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(o))
		return err
	}
	printResult(w, &res)
	return nil
}

func dumpTable(id *volumeid.VolumeID, res *probeResult) error {
	var js string
	switch res.DiskType {
	case table.DTypeGPT:
		gpt, err := table.ReadGPT(id)
		if err != nil {
			return err
		}
		if res.dump, err = gpt.DebugFormat(); err != nil {
			return err
		}
		js, err = gpt.JSONFormat()
		if err != nil {
			return err
		}
	case table.DTypeMBR:
		mbr, err := table.ReadMBR(id)
		if err != nil {
			return err
		}
		if res.dump, err = mbr.DebugFormat(); err != nil {
			return err
		}
		js, err = mbr.JSONFormat()
		if err != nil {
			return err
		}
	default:
		return nil
	}
	res.Table = json.RawMessage(js)
	return nil
}

// probePartitions 每个分区使用独立的会话(独立的缓存)探测文件系统, 由至多 workers 个协程并发执行.
// 结果按分区在表中的顺序返回.
func probePartitions(path string, parts []volumeid.Partition, opts []volumeid.Option, workers int) ([]partitionResult, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fp.Close()

	if workers > len(parts) {
		workers = len(parts)
	}
	if workers < 1 {
		workers = 1
	}
	results := make([]partitionResult, len(parts))
	errs := make([]error, len(parts))
	var wg sync.WaitGroup
	pool, err := ants.NewPoolWithFunc(workers, func(i interface{}) {
		defer wg.Done()
		idx := i.(int)
		results[idx], errs[idx] = probePartition(fp, path, parts[idx], opts)
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create partition pool")
	}
	defer pool.Release()

	for i := range parts {
		wg.Add(1)
		if err = pool.Invoke(i); err != nil {
			wg.Done()
			break
		}
	}
	wg.Wait()
	if err != nil {
		return nil, errors.Wrap(err, "failed to submit partition")
	}
	for _, e := range errs {
		if e != nil {
			return nil, e
		}
	}
	return results, nil
}

func probePartition(fp *os.File, path string, p volumeid.Partition, opts []volumeid.Option) (partitionResult, error) {
	pr := partitionResult{
		Index:        p.Index,
		Offset:       p.Offset,
		Size:         p.Size,
		PartType:     p.Type,
		volumeResult: volumeResult{Usage: p.Usage},
	}
	pid, err := volumeid.New(io.NewSectionReader(fp, int64(p.Offset), int64(p.Size)), opts...)
	if err != nil {
		return pr, err
	}
	defer pid.Close()
	if _, err = fossick.Probe(pid); err == nil {
		pr.volumeResult = newVolumeResult(pid)
	} else if !errors.Is(err, fossick.ErrUnknownFilesystem) {
		logger.Warnf("probePartitions partition %d of %s: %v", p.Index, path, err)
	}
	return pr, nil
}

func printResult(w io.Writer, res *probeResult) {
	fmt.Fprintf(w, "device:      %s\n", res.Device)
	fmt.Fprintf(w, "size:        %s (%d bytes)\n", humanize.IBytes(res.Size), res.Size)
	fmt.Fprintf(w, "disk type:   %s\n", res.DiskType)
	if res.dump != "" {
		fmt.Fprintln(w, res.dump)
	}
	fmt.Fprintf(w, "usage:       %s\n", res.Usage)
	fmt.Fprintf(w, "type:        %s\n", res.Type)
	if res.Version != "" {
		fmt.Fprintf(w, "version:     %s\n", res.Version)
	}
	fmt.Fprintf(w, "label:       %s\n", res.Label)
	fmt.Fprintf(w, "uuid:        %s\n", res.UUID)
	if res.HeaderHash != "" {
		fmt.Fprintf(w, "header hash: %s\n", res.HeaderHash)
	}
	for _, p := range res.Partitions {
		fmt.Fprintf(w, "partition %-3d offset %-12d size %-10s part-type %-38s usage %-14s type %-10s label %q uuid %s\n",
			p.Index, p.Offset, humanize.IBytes(p.Size), p.PartType, p.Usage, p.Type, p.Label, p.UUID)
	}
	st := res.Stats
	fmt.Fprintf(w, "cache:       front %d read(s) %d hit(s), window %d read(s) %d hit(s), %s read\n",
		st.FrontReads, st.FrontHits, st.WindowReads, st.WindowHits, humanize.IBytes(uint64(st.BytesRead)))
}
