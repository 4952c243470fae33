package sim

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// ControlTwist drives the kinematic simulator: Target[0:3] is the commanded
// body twist (vx, vy, yaw rate), the remaining entries are joint position
// targets.
const ControlTwist ControlMode = "twist"

const (
	kinematicName = "kinematic"
	baseTau       = 0.12 // [s] twist tracking time constant at nominal mass
	jointTau      = 0.02 // [s] joint position tracking time constant
	gaitFreq      = 2.0  // [Hz]
	gaitAmp       = 0.12 // [rad] per m/s of planar speed
)

func init() {
	Register(kinematicName, NewKinematic)
}

// Kinematic is a deterministic first-order model of a legged base. Terrain
// level raises velocity noise, body tilt and the penetration rate; added mass
// slows tracking; low friction reduces the achieved speed.
type Kinematic struct {
	cfg    Config
	spec   LoadSpec
	loaded bool

	rng   *rand.Rand
	ctrl  Control
	state State
	roll  float64
	pitch float64
	yaw   float64
}

func NewKinematic(cfg Config) (Simulator, error) {
	if cfg.PhysicsDT <= 0 {
		return nil, fmt.Errorf("physics_dt must be positive, got %v", cfg.PhysicsDT)
	}
	if cfg.Truncation.RolloverRad <= 0 {
		cfg.Truncation.RolloverRad = 1.2
	}
	return &Kinematic{cfg: cfg}, nil
}

func (k *Kinematic) Load(spec LoadSpec) error {
	if len(spec.Robot.JointNames) == 0 {
		return Fatal("robot %q has no joints", spec.Robot.Name)
	}
	if len(spec.Robot.DefaultJoint) != len(spec.Robot.JointNames) {
		return Fatal("robot %q: %d default joint positions for %d joints",
			spec.Robot.Name, len(spec.Robot.DefaultJoint), len(spec.Robot.JointNames))
	}
	if spec.Terrain.Level < 0 || spec.Terrain.Level > 10 {
		return Fatal("terrain %q: level %d outside [0, 10]", spec.Terrain.Name, spec.Terrain.Level)
	}
	if spec.Robot.NominalMass <= 0 {
		spec.Robot.NominalMass = 15
	}
	if spec.Randomization.Friction <= 0 {
		spec.Randomization.Friction = 1
	}
	k.spec = spec
	seed := uint64(spec.Randomization.Seed)
	k.rng = rand.New(rand.NewPCG(seed, uint64(spec.Terrain.Level)+0x9e3779b97f4a7c15))
	k.loaded = true
	k.state = State{Dt: k.cfg.PhysicsDT}
	k.resetPose()
	return nil
}

func (k *Kinematic) resetPose() {
	n := len(k.spec.Robot.JointNames)
	limits := k.spec.Robot.JointLimits
	if len(limits) != n {
		limits = make([][2]float64, n)
		for i := range limits {
			limits[i] = [2]float64{-math.Pi, math.Pi}
		}
	}
	k.roll, k.pitch, k.yaw = 0, 0, 0
	k.state.Joint = Joint{
		Names:  append([]string(nil), k.spec.Robot.JointNames...),
		Pos:    append([]float64(nil), k.spec.Robot.DefaultJoint...),
		Vel:    make([]float64, n),
		Torque: make([]float64, n),
		Limits: append([][2]float64(nil), limits...),
	}
	k.state.Base = Base{Pos: k.spec.Spawn, Quat: [4]float64{1, 0, 0, 0}}
	k.state.IMU = IMU{Quat: k.state.Base.Quat, Acc: [3]float64{0, 0, 9.81}}
	k.ctrl = Control{}
}

func (k *Kinematic) ApplyControl(c Control) {
	k.ctrl = Control{
		Target: append([]float64(nil), c.Target...),
		PGains: append([]float64(nil), c.PGains...),
		DGains: append([]float64(nil), c.DGains...),
		Mode:   c.Mode,
	}
}

func (k *Kinematic) Step() (*State, error) {
	if !k.loaded {
		return nil, Fatal("step before load")
	}
	dt := k.cfg.PhysicsDT
	level := float64(k.spec.Terrain.Level)
	massRatio := (k.spec.Robot.NominalMass + k.spec.Randomization.BaseMass) / k.spec.Robot.NominalMass
	if massRatio < 0.1 {
		massRatio = 0.1
	}
	grip := math.Min(1, 0.4+0.6*k.spec.Randomization.Friction) * (1 - 0.05*level)

	var cmd [3]float64
	if k.ctrl.Mode == ControlTwist {
		copy(cmd[:], k.ctrl.Target)
	}
	tau := baseTau * massRatio
	alpha := dt / (tau + dt)
	planar := math.Hypot(cmd[0], cmd[1])
	sigma := (0.01 + 0.02*level) * (0.2 + planar + math.Abs(cmd[2])) * math.Sqrt(dt) * 10

	b := &k.state.Base
	prevLin := b.LinVel
	b.LinVel[0] += alpha*(grip*cmd[0]-b.LinVel[0]) + sigma*k.rng.NormFloat64()
	b.LinVel[1] += alpha*(grip*cmd[1]-b.LinVel[1]) + sigma*k.rng.NormFloat64()
	b.LinVel[2] = 0
	b.AngVel[2] += alpha*(grip*cmd[2]-b.AngVel[2]) + sigma*k.rng.NormFloat64()

	// Roll and pitch follow a mean-reverting walk whose spread grows with level and speed.
	tiltSigma := 0.004 * level * (0.3 + planar) * math.Sqrt(dt) * 10
	droll := -k.roll*dt*4 + tiltSigma*k.rng.NormFloat64()
	dpitch := -k.pitch*dt*4 + tiltSigma*k.rng.NormFloat64()
	k.roll += droll
	k.pitch += dpitch
	k.yaw += b.AngVel[2] * dt
	b.AngVel[0] = droll / dt
	b.AngVel[1] = dpitch / dt

	sy, cy := math.Sincos(k.yaw)
	b.Pos[0] += (cy*b.LinVel[0] - sy*b.LinVel[1]) * dt
	b.Pos[1] += (sy*b.LinVel[0] + cy*b.LinVel[1]) * dt
	b.Quat = QuatFromEuler(k.roll, k.pitch, k.yaw)

	k.stepJoints(dt, math.Hypot(b.LinVel[0], b.LinVel[1]))

	k.state.IMU.Quat = b.Quat
	k.state.IMU.LinVel = b.LinVel
	k.state.IMU.AngVel = b.AngVel
	k.state.IMU.Acc = [3]float64{
		(b.LinVel[0] - prevLin[0]) / dt,
		(b.LinVel[1] - prevLin[1]) / dt,
		9.81,
	}
	k.state.Step++
	k.state.Time += dt

	if k.cfg.Truncation.Enabled {
		if math.Abs(k.roll) > k.cfg.Truncation.RolloverRad || math.Abs(k.pitch) > k.cfg.Truncation.RolloverRad {
			return k.state.Clone(), Rollover("base tilt roll=%.3f pitch=%.3f exceeds %.3f rad",
				k.roll, k.pitch, k.cfg.Truncation.RolloverRad)
		}
		p := k.cfg.Truncation.PenetrationRate * level / 10 * dt
		if p > 0 && k.rng.Float64() < p {
			return k.state.Clone(), Penetration("foot geometry penetrated terrain %q at step %d",
				k.spec.Terrain.Name, k.state.Step)
		}
	}
	return k.state.Clone(), nil
}

func (k *Kinematic) stepJoints(dt, speed float64) {
	j := &k.state.Joint
	n := len(j.Pos)
	targets := k.spec.Robot.DefaultJoint
	if k.ctrl.Mode == ControlTwist && len(k.ctrl.Target) >= 3+n {
		targets = k.ctrl.Target[3 : 3+n]
	} else if k.ctrl.Mode != ControlTwist && len(k.ctrl.Target) >= n {
		targets = k.ctrl.Target[:n]
	}
	beta := dt / (jointTau + dt)
	phase := 2 * math.Pi * gaitFreq * k.state.Time
	for i := 0; i < n; i++ {
		gait := gaitAmp * speed * math.Sin(phase+float64(i%4)*math.Pi/2)
		want := targets[i] + gait
		prev := j.Pos[i]
		j.Pos[i] += beta * (want - j.Pos[i])
		j.Vel[i] = (j.Pos[i] - prev) / dt
		kp, kd := 20.0, 0.5
		if i < len(k.ctrl.PGains) {
			kp = k.ctrl.PGains[i]
		}
		if i < len(k.ctrl.DGains) {
			kd = k.ctrl.DGains[i]
		}
		j.Torque[i] = kp*(want-j.Pos[i]) - kd*j.Vel[i]
	}
}

// Reset restores the spawn pose. Simulated time keeps running so goal clocks
// stay monotonic across resets.
func (k *Kinematic) Reset() error {
	if !k.loaded {
		return Fatal("reset before load")
	}
	k.resetPose()
	return nil
}

func (k *Kinematic) Close() error {
	k.loaded = false
	return nil
}
