package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/arobust/arobust/pkg/collector"
	"github.com/arobust/arobust/pkg/log"
	"github.com/arobust/arobust/pkg/types"
)

// Master service methods
const (
	ReportMethod    = "/arobust.master.v1.MasterService/ReportDiagnosisAgentMetrics"
	HeartbeatMethod = "/arobust.master.v1.MasterService/ReportHeartbeat"
)

// Option configures a GRPCReporter
type Option func(*GRPCReporter)

// WithDialOptions appends dial options; they replace the default insecure
// transport credentials when they carry their own.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(r *GRPCReporter) { r.dialOpts = append(r.dialOpts, opts...) }
}

// WithNode tags heartbeats with the node identity
func WithNode(node types.NodeInfo) Option {
	return func(r *GRPCReporter) { r.node = node }
}

// WithLogger replaces the reporter logger
func WithLogger(l zerolog.Logger) Option {
	return func(r *GRPCReporter) { r.logger = l }
}

// GRPCReporter sends diagnosis records to the master over gRPC. Records
// travel as google.protobuf.Struct messages, so no generated stubs are needed.
type GRPCReporter struct {
	addr     string
	conn     *grpc.ClientConn
	dialOpts []grpc.DialOption
	node     types.NodeInfo
	logger   zerolog.Logger
}

// NewGRPCReporter creates a reporter for addr. The connection is established
// lazily on the first call.
func NewGRPCReporter(addr string, opts ...Option) (*GRPCReporter, error) {
	if addr == "" {
		return nil, errors.New("master address is required")
	}

	r := &GRPCReporter{
		addr:   addr,
		node:   types.DefaultNodeInfo(),
		logger: log.WithComponent("reporter"),
	}
	for _, opt := range opts {
		opt(r)
	}

	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, r.dialOpts...)
	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection to master: %w", err)
	}
	r.conn = conn

	r.logger.Info().Str("addr", addr).Msg("master reporter created")
	return r, nil
}

// TLSDialOption returns transport credentials that verify the master against
// the CA certificate in caFile.
func TLSDialOption(caFile string) (grpc.DialOption, error) {
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", caFile)
	}

	creds := credentials.NewTLS(&tls.Config{
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	})
	return grpc.WithTransportCredentials(creds), nil
}

// Addr returns the master address
func (r *GRPCReporter) Addr() string { return r.addr }

// Report sends one record
func (r *GRPCReporter) Report(ctx context.Context, rec *types.TrainingMetricRecord) error {
	msg, err := RecordToStruct(rec)
	if err != nil {
		return err
	}
	if err := r.conn.Invoke(ctx, ReportMethod, msg, &emptypb.Empty{}); err != nil {
		return fmt.Errorf("failed to report %s data: %w", rec.DataType(), err)
	}
	return nil
}

// Heartbeat tells the master the agent is alive
func (r *GRPCReporter) Heartbeat(ctx context.Context, timestamp int64) error {
	msg, err := structpb.NewStruct(map[string]any{
		"node_id":   r.node.ID,
		"node_type": r.node.Type,
		"node_rank": r.node.Rank,
		"timestamp": timestamp,
	})
	if err != nil {
		return err
	}
	if err := r.conn.Invoke(ctx, HeartbeatMethod, msg, &emptypb.Empty{}); err != nil {
		return fmt.Errorf("failed to send heartbeat: %w", err)
	}
	return nil
}

// Close closes the connection
func (r *GRPCReporter) Close() error {
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

// RecordToStruct converts a record to its wire message
func RecordToStruct(rec *types.TrainingMetricRecord) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(map[string]any{
		"data_type":    string(rec.DataType()),
		"data_content": rec.Content(),
		"node_id":      rec.NodeID(),
		"node_type":    rec.NodeType(),
		"node_rank":    rec.NodeRank(),
		"timestamp":    rec.Timestamp(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return s, nil
}

// StructToRecord converts a wire message back to a record
func StructToRecord(s *structpb.Struct) (*types.TrainingMetricRecord, error) {
	f := s.GetFields()
	wire := map[string]any{
		"data_type":    f["data_type"].GetStringValue(),
		"data_content": f["data_content"].GetStringValue(),
		"node_id":      int64(f["node_id"].GetNumberValue()),
		"node_type":    f["node_type"].GetStringValue(),
		"node_rank":    int64(f["node_rank"].GetNumberValue()),
		"timestamp":    int64(f["timestamp"].GetNumberValue()),
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, err
	}
	return types.TrainingMetricRecordFromJSON(data)
}

var _ collector.Reporter = (*GRPCReporter)(nil)
