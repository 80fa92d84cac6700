package grpcclient

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/facewatch/internal/faceencoder"
	"github.com/example/facewatch/internal/logging"
)

// DetectAndEncodeMethod is the full gRPC method name served by the face encoder.
// The request is a BytesValue holding the image, the response a Struct of the
// form {"faces": [{"box": [top, right, bottom, left], "encoding": [...]}]}.
const DetectAndEncodeMethod = "/facerecognition.FaceEncoder/DetectAndEncode"

// DialFaceEncoder returns a ready-to-use encoder backed by the remote face service.
func DialFaceEncoder(ctx context.Context, addr string, callTimeout time.Duration, logger *zap.Logger, opts ...grpc.DialOption) (faceencoder.Encoder, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, opts...)
	conn, err := grpc.DialContext(dialCtx, addr, dialOpts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_face_encoder", "", err)
		logger.Error("failed to dial face encoder", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return NewFaceEncoder(conn, callTimeout, logger), conn, nil
}

// NewFaceEncoder adapts an established connection.
func NewFaceEncoder(conn grpc.ClientConnInterface, callTimeout time.Duration, logger *zap.Logger) faceencoder.Encoder {
	return &grpcFaceEncoder{conn: conn, callTimeout: callTimeout, logger: logger.Named("grpc_face_encoder")}
}

type grpcFaceEncoder struct {
	conn        grpc.ClientConnInterface
	callTimeout time.Duration
	logger      *zap.Logger
}

func (g *grpcFaceEncoder) DetectAndEncode(ctx context.Context, image []byte) ([]faceencoder.Face, error) {
	if g.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.callTimeout)
		defer cancel()
	}

	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, DetectAndEncodeMethod, wrapperspb.Bytes(image), resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.detect_and_encode", "", err)
		g.logger.Error("face encoder call failed", zap.Error(wrapped), zap.Int("image_bytes", len(image)))
		return nil, wrapped
	}

	faces, err := DecodeFaces(resp)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.decode_faces", "", err)
		g.logger.Error("malformed face encoder response", zap.Error(wrapped))
		return nil, wrapped
	}
	return faces, nil
}

// DecodeFaces converts the encoder's Struct response into faces.
func DecodeFaces(resp *structpb.Struct) ([]faceencoder.Face, error) {
	list := resp.GetFields()["faces"].GetListValue()
	if list == nil {
		return []faceencoder.Face{}, nil
	}

	faces := make([]faceencoder.Face, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		fields := v.GetStructValue().GetFields()
		if fields == nil {
			return nil, fmt.Errorf("face %d is not an object", i)
		}

		loc := make([]int, 0, 4)
		for _, c := range fields["box"].GetListValue().GetValues() {
			loc = append(loc, int(c.GetNumberValue()))
		}
		box, err := faceencoder.BoxFromLocation(loc)
		if err != nil {
			return nil, fmt.Errorf("face %d: %w", i, err)
		}

		values := fields["encoding"].GetListValue().GetValues()
		enc := make(faceencoder.Encoding, len(values))
		for j, x := range values {
			enc[j] = x.GetNumberValue()
		}
		faces = append(faces, faceencoder.Face{Box: box, Encoding: enc})
	}

	if err := faceencoder.Validate(faces); err != nil {
		return nil, err
	}
	return faces, nil
}

// EncodeFaces is the inverse of DecodeFaces, used by encoder implementations
// written in Go and by tests.
func EncodeFaces(faces []faceencoder.Face) (*structpb.Struct, error) {
	list := make([]interface{}, 0, len(faces))
	for _, f := range faces {
		enc := make([]interface{}, len(f.Encoding))
		for i, x := range f.Encoding {
			enc[i] = x
		}
		list = append(list, map[string]interface{}{
			"box":      []interface{}{f.Box.Top, f.Box.Right, f.Box.Bottom, f.Box.Left},
			"encoding": enc,
		})
	}
	return structpb.NewStruct(map[string]interface{}{"faces": list})
}
